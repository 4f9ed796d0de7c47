// Package product описывает типы товаров каталога и их поведение.
package product

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/giftaid-donations/internal/model"
	"github.com/mmeshcher/giftaid-donations/internal/validation"
)

// SessionDonationAmountKey - ключ суммы пожертвования в сессии покупателя.
const SessionDonationAmountKey = "donation_amount"

// VariablePriceLabel показывается вместо цены пожертвования в административной части.
const VariablePriceLabel = "Variable"

// SessionValues - источник значений сессии покупателя.
type SessionValues interface {
	GetSessionValue(key string) (string, bool)
}

// PriceResolver вычисляет цену товара для текущей сессии.
type PriceResolver func(p model.Product, values SessionValues) decimal.Decimal

// Capabilities - набор свойств, определяемых типом товара.
type Capabilities struct {
	Taxable          bool
	NeedsShipping    bool
	Virtual          bool
	SoldIndividually bool
	Price            PriceResolver
}

// For возвращает свойства товара с учётом его типа.
// Для пожертвований флаги фиксированы и не зависят от значений, сохранённых у товара.
func For(p model.Product) Capabilities {
	if p.Kind == model.ProductKindDonation {
		return Capabilities{
			Taxable:          false,
			NeedsShipping:    false,
			Virtual:          true,
			SoldIndividually: true,
			Price:            donationPrice,
		}
	}
	return Capabilities{
		Taxable:          p.Taxable,
		NeedsShipping:    p.NeedsShipping,
		Virtual:          p.Virtual,
		SoldIndividually: p.SoldIndividually,
		Price:            catalogPrice,
	}
}

// Price возвращает цену товара в текущей сессии.
func Price(p model.Product, values SessionValues) decimal.Decimal {
	return For(p).Price(p, values)
}

// PriceDisplay возвращает текст цены для витрины или административной части.
func PriceDisplay(p model.Product, admin bool) string {
	if p.Kind == model.ProductKindDonation {
		if admin {
			return VariablePriceLabel
		}
		return ""
	}
	return "£" + p.RegularPrice.StringFixed(2)
}

// AddToCartText возвращает подпись кнопки добавления в корзину.
func AddToCartText(p model.Product) string {
	if p.Kind == model.ProductKindDonation {
		return "Donate"
	}
	return "Add to cart"
}

func catalogPrice(p model.Product, _ SessionValues) decimal.Decimal {
	return p.RegularPrice
}

func donationPrice(_ model.Product, values SessionValues) decimal.Decimal {
	if values == nil {
		return decimal.Zero
	}
	raw, ok := values.GetSessionValue(SessionDonationAmountKey)
	if !ok {
		return decimal.Zero
	}
	amount, ok := validation.ParseAmount(raw)
	if !ok {
		return decimal.Zero
	}
	return amount
}

// IncrementLoader загружает сохранённый шаг суммы пожертвования.
type IncrementLoader func() (decimal.Decimal, error)

// Donation оборачивает товар-пожертвование и лениво кэширует шаг суммы.
type Donation struct {
	model.Product

	load IncrementLoader

	once      sync.Once
	increment decimal.Decimal
}

// NewDonation создаёт пожертвование. Если loader равен nil, шаг берётся из самого товара.
func NewDonation(p model.Product, loader IncrementLoader) *Donation {
	if loader == nil {
		stored := p.AmountIncrement
		loader = func() (decimal.Decimal, error) { return stored, nil }
	}
	return &Donation{Product: p, load: loader}
}

// AmountIncrement возвращает шаг суммы пожертвования; при отсутствии или неположительном
// значении используется 0.01. Значение загружается один раз.
func (d *Donation) AmountIncrement() decimal.Decimal {
	d.once.Do(func() {
		v, err := d.load()
		if err != nil || !v.IsPositive() {
			v = validation.DefaultAmountIncrement
		}
		d.increment = v
	})
	return d.increment
}
