// Package model содержит доменные сущности сервиса пожертвований Gift Aid.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User представляет сотрудника, имеющего доступ к административной части.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Capabilities []Capability
	CreatedAt    time.Time
}

// Capability описывает право сотрудника на действие в административной части.
type Capability string

// CapabilityManageOptions даёт доступ к настройкам Gift Aid и выгрузке заявок.
const CapabilityManageOptions Capability = "manage_options"

// HasCapability сообщает, обладает ли пользователь указанным правом.
func (u *User) HasCapability(c Capability) bool {
	for _, have := range u.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// ProductKind описывает тип товара в каталоге.
type ProductKind string

const (
	ProductKindSimple   ProductKind = "simple"
	ProductKindDonation ProductKind = "donation"
)

// Product описывает товар каталога.
//
// Флаги Taxable, NeedsShipping, Virtual и SoldIndividually хранят значения по умолчанию
// для обычных товаров; для пожертвований они переопределяются типом товара.
type Product struct {
	ID               int64
	Name             string
	Kind             ProductKind
	RegularPrice     decimal.Decimal
	AmountIncrement  decimal.Decimal
	Taxable          bool
	NeedsShipping    bool
	Virtual          bool
	SoldIndividually bool
}

// CartLine описывает одну позицию корзины.
type CartLine struct {
	Key            string           `json:"key"`
	ProductID      int64            `json:"product_id"`
	Kind           ProductKind      `json:"kind"`
	Name           string           `json:"name"`
	Quantity       int              `json:"quantity"`
	Price          decimal.Decimal  `json:"price"`
	DonationAmount *decimal.Decimal `json:"donation_amount,omitempty"`
}

// Billing содержит платёжные данные покупателя из формы оформления заказа.
type Billing struct {
	FirstName string
	LastName  string
	Address1  string
	Postcode  string
}

// Order описывает оформленный заказ.
type Order struct {
	ID        int64
	SessionID string
	Billing   Billing
	Total     decimal.Decimal
	CreatedAt time.Time
}

// OrderDateLayout задаёт формат даты заказа в снимке пожертвования.
const OrderDateLayout = "2006-01-02 15:04:05"

// Date возвращает дату заказа в формате, в котором она сохраняется в снимке.
func (o *Order) Date() string {
	return o.CreatedAt.Format(OrderDateLayout)
}

// CheckoutForm - данные формы оформления заказа, относящиеся к Gift Aid.
type CheckoutForm struct {
	Nonce     string
	SessionID string
	GiftAid   string
}

// DonationData - денормализованный снимок платёжных данных заказа.
type DonationData struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	HouseNo   string `json:"house_no"`
	PostCode  string `json:"post_code"`
	Date      string `json:"date"`
	Amount    string `json:"amount"`
}

// Значения флага Gift Aid.
const (
	GiftAidFlagEligible = "1"
	GiftAidFlagClaimed  = "claimed"
)

// GiftAidDeclaration описывает декларацию Gift Aid, привязанную к заказу.
// Отсутствующие поля (nil) означают, что снимок не был записан.
type GiftAidDeclaration struct {
	OrderID      int64
	Flag         *string
	FirstName    *string
	LastName     *string
	HouseNo      *string
	PostCode     *string
	DonationDate *string
	Amount       *string
}

// Claimable сообщает, попадает ли декларация в список заявок: флаг должен быть ровно "1",
// а все шесть полей снимка должны присутствовать.
func (d *GiftAidDeclaration) Claimable() bool {
	if d.Flag == nil || *d.Flag != GiftAidFlagEligible {
		return false
	}
	for _, f := range []*string{d.FirstName, d.LastName, d.HouseNo, d.PostCode, d.DonationDate, d.Amount} {
		if f == nil {
			return false
		}
	}
	return true
}

// Claim - строка списка заявок Gift Aid.
type Claim struct {
	OrderID   int64
	FirstName string
	LastName  string
	House     string
	PostCode  string
	Date      string
	Amount    string
}

// ClaimsExportRow - строка выгрузки по схеме налоговой службы.
type ClaimsExportRow struct {
	Title               string
	FirstName           string
	LastName            string
	House               string
	Postcode            string
	AggregatedDonations string
	SponsoredEvent      string
	DonationDate        string
	Amount              string
}

// ClaimsExportHeader - заголовки колонок выгрузки.
var ClaimsExportHeader = []string{
	"Title",
	"First Name",
	"Last Name",
	"House name or number",
	"Postcode",
	"Aggregated donations",
	"Sponsored event (yes/blank)",
	"Donation date (DD/MM/YY)",
	"Donation Amount",
}

// Fields возвращает значения строки в порядке колонок выгрузки.
func (r ClaimsExportRow) Fields() []string {
	return []string{
		r.Title,
		r.FirstName,
		r.LastName,
		r.House,
		r.Postcode,
		r.AggregatedDonations,
		r.SponsoredEvent,
		r.DonationDate,
		r.Amount,
	}
}

// Settings содержит настройки Gift Aid, редактируемые администратором.
type Settings struct {
	DonationProductID int64
	CharityName       string
}
