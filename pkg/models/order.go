package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderFulfilled  OrderStatus = "fulfilled"
	OrderCancelled  OrderStatus = "cancelled"
)

type Store struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Timestamps
}

type Order struct {
	ID            string          `json:"id"`
	StoreID       string          `json:"store_id"`
	OrderNumber   string          `json:"order_number"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	CustomerPhone string          `json:"customer_phone"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	ShippingFee   decimal.Decimal `json:"shipping_fee"`
	AgmFee        decimal.Decimal `json:"agm_fee"`
	Total         decimal.Decimal `json:"total"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	Timestamps
	SoftDelete
}

// ComputeTotal returns subtotal - discount + shipping_fee + agm_fee rounded to kobo.
func (o *Order) ComputeTotal() decimal.Decimal {
	return o.Subtotal.Sub(o.Discount).Add(o.ShippingFee).Add(o.AgmFee).Round(2)
}

// Validate checks the stored total against its components. The schema does not enforce it.
func (o *Order) Validate() error {
	if o.Subtotal.IsNegative() || o.Discount.IsNegative() || o.ShippingFee.IsNegative() || o.AgmFee.IsNegative() {
		return fmt.Errorf("order %s: monetary components must not be negative", o.OrderNumber)
	}
	if want := o.ComputeTotal(); !o.Total.Round(2).Equal(want) {
		return fmt.Errorf("order %s: total %s does not match components (%s)", o.OrderNumber, o.Total.StringFixed(2), want.StringFixed(2))
	}
	return nil
}

func (o *Order) IsPayable() bool {
	return !o.IsDeleted() && o.Status != OrderCancelled
}

// Payout is the share of the order credited to the store owner.
func (o *Order) Payout() decimal.Decimal {
	return o.Total.Sub(o.AgmFee)
}
