package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Offer — процентная скидка товара или категории с необязательным окном дат.
// StartAt/EndAt хранятся как есть (YYYY-MM-DD или RFC3339); некорректная дата делает оффер неактивным.
type Offer struct {
	Percent int
	Active  bool
	StartAt string
	EndAt   string
}

// Category — категория каталога.
type Category struct {
	ID        string
	Name      string
	Active    bool
	Deleted   bool
	Offer     *Offer
	UpdatedAt time.Time
}

// Product — товар каталога. Stock никогда не уходит ниже нуля.
type Product struct {
	ID         string
	Name       string
	Image      string
	CategoryID string
	Price      decimal.Decimal
	Stock      int
	Active     bool
	Deleted    bool
	Offer      *Offer
	UpdatedAt  time.Time
}

// Purchasable сообщает, можно ли положить товар в корзину или оформить его.
func (p Product) Purchasable() bool {
	return p.Active && !p.Deleted
}

// Address — адрес доставки пользователя; в заказ попадает снимком.
type Address struct {
	ID        string
	UserID    string
	FullName  string
	Phone     string
	Line1     string
	Line2     string
	City      string
	State     string
	Pincode   string
	Country   string
	Deleted   bool
	CreatedAt time.Time
}

// AddressSnapshot — копия адреса на момент оформления заказа.
type AddressSnapshot struct {
	FullName string
	Phone    string
	Line1    string
	Line2    string
	City     string
	State    string
	Pincode  string
	Country  string
}

// Snapshot копирует адрес по значению.
func (a Address) Snapshot() AddressSnapshot {
	return AddressSnapshot{
		FullName: a.FullName,
		Phone:    a.Phone,
		Line1:    a.Line1,
		Line2:    a.Line2,
		City:     a.City,
		State:    a.State,
		Pincode:  a.Pincode,
		Country:  a.Country,
	}
}
