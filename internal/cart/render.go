package cart

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/giftaid-donations/internal/middleware"
	"github.com/mmeshcher/giftaid-donations/internal/model"
	"github.com/mmeshcher/giftaid-donations/internal/product"
	"github.com/mmeshcher/giftaid-donations/internal/validation"
)

const declarationTemplate = `<strong>Gift Aid Declaration:</strong> Boost your donation by 25p of Gift Aid for every £1 you donate. Gift aid is reclaimed by the charity from the tax you pay for the current year. Your address is needed to identify you as a current UK taxpayer.<br /><br />
I am a UK tax payer. Please treat all gifts I have made to %[1]s in the last four years and all donations I make hereafter as Gift Aid donations. I understand that if I pay less Income Tax and/or Capital Gains Tax than the amount of Gift Aid claimed on all my donations in that tax year it is my responsibility to pay any difference.<br /><br />
I understand that I can cancel this declaration at any time by notifying %[1]s and I will inform them if I change my name or home address. Or If I no longer pay sufficient tax on my income or capital gains to reclaim gift aid.`

var templates = template.Must(template.New("cart").Parse(`
{{define "line-amount"}}<input type="number" name="{{.Name}}" size="5" min="0" step="{{.Step}}" value="{{.Value}}" />{{end}}

{{define "donation-control"}}<tr class="donation-block">
	<td colspan="6">
		<div class="donation">
			<p class="message"><strong>Add a donation to your order:</strong></p>
			<div class="input text">
				<label>Donation (&pound;):</label>
				<input type="text" name="donation_amount" value="{{.Amount}}"/>
			</div>
			<div class="submit donate-btn">
				<input type="hidden" name="{{.NonceField}}" value="{{.Nonce}}" />
				<input type="submit" class="button" name="add_donation" value="Add Donation" />
				<input type="hidden" name="action" value="add_donation" />
			</div>
		</div>
	</td>
</tr>{{end}}

{{define "gift-aid-field"}}<div id="gift-aid-field"><h3>Gift Aid: </h3>
	<p class="form-row input-checkbox" id="giftaid_checkbox_field">
		<label class="checkbox"><input type="checkbox" class="input-checkbox" name="giftaid_checkbox" id="giftaid_checkbox" value="1"{{if .Checked}} checked="checked"{{end}} /> {{.Label}}</label>
	</p>
</div>{{end}}

{{define "amount-field"}}<div class="wc-donation-amount">
	<input type="hidden" name="{{.NonceField}}" value="{{.Nonce}}" />
	<label for="donation_amount">Amount:</label>
	<input type="number" name="donation_amount" id="donation_amount" size="5" min="0" step="{{.Step}}" value="{{.Value}}" class="input-text text" />
	<input type="hidden" name="add_donation" value="1" />
</div>{{end}}
`))

func render(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return template.HTML(buf.String()), nil
}

// RenderCartItemPrice возвращает цену позиции корзины; для пожертвований - поле ввода суммы.
func (a *Adapter) RenderCartItemPrice(line model.CartLine, increment decimal.Decimal) (template.HTML, error) {
	if line.Kind != model.ProductKindDonation {
		return template.HTML(template.HTMLEscapeString("£" + line.Price.StringFixed(2))), nil
	}

	return render("line-amount", struct {
		Name  string
		Step  string
		Value string
	}{
		Name:  LineAmountField(line.Key),
		Step:  increment.String(),
		Value: line.Price.String(),
	})
}

// RenderDonationControl возвращает форму добавления пожертвования, если его нет в корзине.
// Сумма из сессии при этом сбрасывается, но показывается в поле как подсказка.
func (a *Adapter) RenderDonationControl(sess Session, nonce string) (template.HTML, error) {
	donate := decimal.Zero
	if raw, ok := sess.GetSessionValue(product.SessionDonationAmountKey); ok {
		if v, ok := validation.ParseAmount(raw); ok {
			donate = v
		}
	}

	if DonationExists(sess) {
		return "", nil
	}
	sess.UnsetSessionValue(product.SessionDonationAmountKey)

	return render("donation-control", struct {
		Amount     string
		NonceField string
		Nonce      string
	}{
		Amount:     donate.String(),
		NonceField: middleware.NonceField,
		Nonce:      nonce,
	})
}

// OnCheckoutRender возвращает флажок декларации Gift Aid, если в корзине есть пожертвование.
// Название благотворительной организации подставляется без экранирования.
func (a *Adapter) OnCheckoutRender(sess Session, charity string, checked bool) (template.HTML, error) {
	if !DonationExists(sess) {
		return "", nil
	}

	label := fmt.Sprintf(a.declaration.Sanitize(declarationTemplate), charity)

	return render("gift-aid-field", struct {
		Checked bool
		Label   template.HTML
	}{
		Checked: checked,
		Label:   template.HTML(label),
	})
}

// RenderAmountField возвращает поле суммы на странице товара-пожертвования.
func (a *Adapter) RenderAmountField(d *product.Donation, price decimal.Decimal, nonce string) (template.HTML, error) {
	return render("amount-field", struct {
		NonceField string
		Nonce      string
		Step       string
		Value      string
	}{
		NonceField: middleware.NonceField,
		Nonce:      nonce,
		Step:       d.AmountIncrement().String(),
		Value:      price.StringFixed(2),
	})
}
