package handler

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
)

var pages = template.Must(template.New("pages").Parse(`
{{define "header"}}<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.}}</title></head>
<body>
<h1>{{.}}</h1>
{{end}}

{{define "footer"}}</body>
</html>
{{end}}

{{define "product"}}{{template "header" .Product.Name}}
<div class="product" id="product-{{.Product.ID}}">
	<p class="price">{{.PriceDisplay}}</p>
	<form class="cart" method="post" action="/cart/add">
		<input type="hidden" name="product_id" value="{{.Product.ID}}" />
		{{.AmountField}}
		<button type="submit" class="single_add_to_cart_button button">{{.ButtonText}}</button>
	</form>
</div>
{{template "footer"}}{{end}}

{{define "cart"}}{{template "header" "Cart"}}
<form method="post" action="/cart/update">
	<input type="hidden" name="{{.NonceField}}" value="{{.Nonce}}" />
	<table class="shop_table cart">
		<thead><tr><th></th><th>Product</th><th>Price</th><th>Quantity</th></tr></thead>
		<tbody>
		{{- range .Lines}}
		<tr class="cart_item" id="line-{{.Key}}">
			<td class="product-remove"><button type="submit" formaction="/cart/remove/{{.Key}}" class="remove">&times;</button></td>
			<td class="product-name">{{.Name}}</td>
			<td class="product-price">{{.Price}}</td>
			<td class="product-quantity">{{.Quantity}}</td>
		</tr>
		{{- end}}
		{{.DonationControl}}
		</tbody>
	</table>
	<input type="submit" class="button" name="update_cart" value="Update Cart" />
</form>
<p class="order-total">Total: &pound;{{.Total}}</p>
{{if .Lines}}<a href="/checkout" class="checkout-button button">Proceed to Checkout</a>{{end}}
{{template "footer"}}{{end}}

{{define "checkout"}}{{template "header" "Checkout"}}
<form name="checkout" method="post" action="/checkout" class="checkout">
	<input type="hidden" name="{{.NonceField}}" value="{{.Nonce}}" />
	<p class="form-row"><label for="billing_first_name">First Name</label><input type="text" name="billing_first_name" id="billing_first_name" /></p>
	<p class="form-row"><label for="billing_last_name">Last Name</label><input type="text" name="billing_last_name" id="billing_last_name" /></p>
	<p class="form-row"><label for="billing_address_1">Address</label><input type="text" name="billing_address_1" id="billing_address_1" /></p>
	<p class="form-row"><label for="billing_postcode">Postcode</label><input type="text" name="billing_postcode" id="billing_postcode" /></p>
	{{.GiftAidField}}
	<p class="order-total">Total: &pound;{{.Total}}</p>
	<input type="submit" class="button alt" name="checkout_place_order" id="place_order" value="Place order" />
</form>
{{template "footer"}}{{end}}

{{define "order-received"}}{{template "header" "Order received"}}
<p class="order-number">Order number: <strong>{{.ID}}</strong></p>
<p class="order-total">Total: &pound;{{.Total.StringFixed 2}}</p>
{{template "footer"}}{{end}}

{{define "settings"}}{{template "header" "Gift Aid"}}
<form method="post" action="/admin/giftaid/settings">
	<input type="hidden" name="{{.NonceField}}" value="{{.Nonce}}" />
	<table class="form-table">
		<tr>
			<th><label for="donation_product_id">Default donation product</label></th>
			<td>
				<select name="donation_product_id" id="donation_product_id">
				{{- $selected := .Settings.DonationProductID}}
				{{- range .Products}}
					<option value="{{.ID}}"{{if eq .ID $selected}} selected="selected"{{end}}>{{.Name}}</option>
				{{- end}}
				</select>
			</td>
		</tr>
		<tr>
			<th><label for="charity_name">Charity name</label></th>
			<td><input type="text" name="charity_name" id="charity_name" value="{{.Settings.CharityName}}" /></td>
		</tr>
	</table>
	<input type="submit" class="button-primary" value="Save changes" />
</form>
{{.Claims}}
{{template "footer"}}{{end}}

{{define "products"}}{{template "header" "Products"}}
<table class="wp-list-table widefat products">
	<thead><tr><th>ID</th><th>Name</th><th>Type</th><th>Price</th><th>Donation</th></tr></thead>
	<tbody>
	{{- range .Rows}}
	<tr id="product-{{.ID}}">
		<td>{{.ID}}</td>
		<td class="name">{{.Name}}</td>
		<td class="type">{{.Kind}}</td>
		<td class="price">{{.PriceDisplay}}</td>
		<td>
		{{- if .IsDonation}}
			<form method="post" action="/admin/products/{{.ID}}" class="donation_options">
				<input type="hidden" name="{{$.NonceField}}" value="{{$.Nonce}}" />
				<label>Default Amount (&pound;) <input type="text" class="wc_input_price short" name="_regular_price" value="{{.DefaultAmount}}" /></label>
				<label>Amount increment <input type="number" class="short" name="_donation_amount_increment" step="0.01" min="0" value="{{.Increment}}" /></label>
				<input type="submit" class="button" value="Save" />
			</form>
		{{- end}}
		</td>
	</tr>
	{{- end}}
	</tbody>
</table>
<h2>Add product</h2>
<form method="post" action="/admin/products" class="new-product">
	<label>Name <input type="text" name="name" /></label>
	<label>Type
		<select name="kind">
			<option value="simple">Simple product</option>
			<option value="donation">Donation</option>
		</select>
	</label>
	<label>Regular price <input type="text" name="regular_price" /></label>
	<label>Amount increment <input type="text" name="amount_increment" /></label>
	<input type="submit" class="button" value="Add" />
</form>
{{template "footer"}}{{end}}
`))

func (h *Handler) renderPage(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		h.internalError(w, fmt.Errorf("render %s: %w", name, err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
