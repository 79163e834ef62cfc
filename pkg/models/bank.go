package models

type Bank struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// NigerianBanks lists the banks payout accounts can be held at, keyed by
// their NIBSS institution code.
var NigerianBanks = []Bank{
	{Name: "Access Bank Plc", Code: "044"},
	{Name: "Citibank Nigeria Ltd", Code: "023"},
	{Name: "Ecobank Nigeria Plc", Code: "050"},
	{Name: "Fidelity Bank Plc", Code: "070"},
	{Name: "First Bank of Nigeria Ltd", Code: "011"},
	{Name: "First City Monument Bank (FCMB) Plc", Code: "214"},
	{Name: "Guaranty Trust Bank Plc (GTBank)", Code: "058"},
	{Name: "Keystone Bank Ltd", Code: "082"},
	{Name: "Parallex Bank Ltd", Code: "104"},
	{Name: "Polaris Bank Plc", Code: "076"},
	{Name: "Providus Bank Ltd", Code: "101"},
	{Name: "Stanbic IBTC Bank Plc", Code: "221"},
	{Name: "Standard Chartered Bank Nigeria Ltd", Code: "068"},
	{Name: "Sterling Bank Plc", Code: "232"},
	{Name: "SunTrust Bank Nigeria Ltd", Code: "100"},
	{Name: "Union Bank of Nigeria Plc", Code: "032"},
	{Name: "United Bank for Africa (UBA) Plc", Code: "033"},
	{Name: "Unity Bank Plc", Code: "215"},
	{Name: "Wema Bank Plc", Code: "035"},
	{Name: "Zenith Bank Plc", Code: "057"},
	{Name: "Kuda Bank", Code: "50211"},
	{Name: "Moniepoint Microfinance Bank", Code: "50515"},
	{Name: "OPay (OPay Microfinance Bank)", Code: "999992"},
	{Name: "PalmPay (PalmPay Microfinance Bank)", Code: "999991"},
	{Name: "9Payment Service Bank", Code: "120001"},
}

// BankName returns the name registered for code, or "Unknown Bank".
func BankName(code string) string {
	for _, b := range NigerianBanks {
		if b.Code == code {
			return b.Name
		}
	}
	return "Unknown Bank"
}
