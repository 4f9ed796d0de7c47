// Package cart встраивает пожертвования в корзину и оформление заказа.
package cart

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/giftaid-donations/internal/middleware"
	"github.com/mmeshcher/giftaid-donations/internal/model"
	"github.com/mmeshcher/giftaid-donations/internal/product"
	"github.com/mmeshcher/giftaid-donations/internal/validation"
)

// Имена полей форм корзины и оформления заказа.
const (
	FieldDonationAmount     = "donation_amount"
	FieldAddDonation        = "add_donation"
	FieldGiftAidCheckbox    = "giftaid_checkbox"
	lineAmountFieldTemplate = "donation_amount_%s"
)

// Session - состояние корзины покупателя, передаваемое в каждую операцию явно.
type Session interface {
	SessionID() string
	Lines() []model.CartLine
	GetLine(key string) (model.CartLine, bool)
	SetLine(line model.CartLine)
	RemoveLine(key string)
	GetSessionValue(key string) (string, bool)
	SetSessionValue(key, value string)
	UnsetSessionValue(key string)
}

// Catalog предоставляет товары каталога.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
}

// NonceVerifier проверяет токены защиты от подделки запроса.
type NonceVerifier interface {
	Verify(nonce, action, sessionID string) bool
}

// Adapter реализует операции корзины и оформления заказа для пожертвований.
type Adapter struct {
	catalog     Catalog
	nonces      NonceVerifier
	declaration *bluemonday.Policy
}

// NewAdapter создаёт адаптер корзины.
func NewAdapter(catalog Catalog, nonces NonceVerifier) *Adapter {
	policy := bluemonday.NewPolicy()
	policy.AllowElements("br", "strong")

	return &Adapter{
		catalog:     catalog,
		nonces:      nonces,
		declaration: policy,
	}
}

// LineKey возвращает ключ позиции корзины для товара.
func LineKey(productID int64) string {
	return "p" + strconv.FormatInt(productID, 10)
}

// LineAmountField возвращает имя поля редактирования суммы для позиции корзины.
func LineAmountField(key string) string {
	return fmt.Sprintf(lineAmountFieldTemplate, key)
}

// DonationExists сообщает, есть ли в корзине пожертвование.
func DonationExists(sess Session) bool {
	for _, l := range sess.Lines() {
		if l.Kind == model.ProductKindDonation {
			return true
		}
	}
	return false
}

// OnCartSessionLoad выставляет цену пожертвований из сохранённой в позиции суммы.
func (a *Adapter) OnCartSessionLoad(sess Session) {
	for _, l := range sess.Lines() {
		if l.Kind != model.ProductKindDonation || l.DonationAmount == nil {
			continue
		}
		if l.Price.Equal(*l.DonationAmount) {
			continue
		}
		l.Price = *l.DonationAmount
		sess.SetLine(l)
	}
}

// DonationForm - данные формы добавления пожертвования.
type DonationForm struct {
	Nonce       string
	Amount      string
	AddDonation bool
}

// ProcessDonation сохраняет сумму пожертвования в сессии и добавляет товар-пожертвование
// в корзину, если его там ещё нет. Неверный токен или сумма молча игнорируются.
func (a *Adapter) ProcessDonation(ctx context.Context, sess Session, form DonationForm, donationProductID int64) (bool, error) {
	if !a.nonces.Verify(form.Nonce, middleware.NonceActionCart, sess.SessionID()) {
		return false, nil
	}

	amount, ok := validation.ParsePositiveAmount(form.Amount)
	if !ok || !form.AddDonation {
		return false, nil
	}

	sess.SetSessionValue(product.SessionDonationAmountKey, amount.String())

	for _, l := range sess.Lines() {
		if l.Kind == model.ProductKindDonation {
			l.DonationAmount = &amount
			l.Price = amount
			sess.SetLine(l)
			return true, nil
		}
	}

	p, err := a.catalog.GetProduct(ctx, donationProductID)
	if err != nil {
		return false, fmt.Errorf("get donation product: %w", err)
	}

	sess.SetLine(model.CartLine{
		Key:            LineKey(p.ID),
		ProductID:      p.ID,
		Kind:           p.Kind,
		Name:           p.Name,
		Quantity:       1,
		Price:          product.Price(*p, sess),
		DonationAmount: &amount,
	})

	return true, nil
}

// OnCartUpdateSubmit применяет изменённые суммы пожертвований из формы корзины.
// Без действительного токена состояние не меняется.
func (a *Adapter) OnCartUpdateSubmit(sess Session, form url.Values) bool {
	lines := sess.Lines()
	if len(lines) == 0 {
		return false
	}

	if !a.nonces.Verify(form.Get(middleware.NonceField), middleware.NonceActionCart, sess.SessionID()) {
		return false
	}

	updated := false
	for _, l := range lines {
		if l.Kind != model.ProductKindDonation {
			continue
		}

		amount, ok := validation.ParsePositiveAmount(form.Get(LineAmountField(l.Key)))
		if !ok || amount.Equal(l.Price) {
			continue
		}

		l.DonationAmount = &amount
		l.Price = amount
		sess.SetSessionValue(product.SessionDonationAmountKey, amount.String())
		sess.SetLine(l)
		updated = true
	}

	return updated
}

// RemoveLine удаляет позицию из корзины.
func (a *Adapter) RemoveLine(sess Session, key string) {
	sess.RemoveLine(key)
}

// Total возвращает сумму корзины с учётом цен, вычисленных для текущей сессии.
func Total(sess Session) decimal.Decimal {
	total := decimal.Zero
	for _, l := range sess.Lines() {
		price := l.Price
		if l.Kind == model.ProductKindDonation {
			price = product.Price(model.Product{Kind: l.Kind}, sess)
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}
