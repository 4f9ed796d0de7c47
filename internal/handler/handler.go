// Package handler содержит HTTP-обработчики витрины и административной части сервиса пожертвований.
package handler

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/giftaid-donations/internal/cart"
	"github.com/mmeshcher/giftaid-donations/internal/claims"
	"github.com/mmeshcher/giftaid-donations/internal/middleware"
	"github.com/mmeshcher/giftaid-donations/internal/model"
	"github.com/mmeshcher/giftaid-donations/internal/product"
	"github.com/mmeshcher/giftaid-donations/internal/repository"
	"github.com/mmeshcher/giftaid-donations/internal/service"
	"github.com/mmeshcher/giftaid-donations/internal/validation"
)

const exportURL = "/admin/giftaid/export.csv"

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
	CreateProduct(ctx context.Context, p model.Product) (int64, error)
	Donation(p model.Product) *product.Donation
	SaveDonationMeta(ctx context.Context, id int64, defaultAmount, increment string) error
	LoadSession(ctx context.Context, id string) (*model.Session, error)
	SaveSession(ctx context.Context, sess *model.Session) error
	PlaceOrder(ctx context.Context, sess *model.Session, billing model.Billing) (*model.Order, error)
	OnCheckoutSubmit(ctx context.Context, orderID int64, form model.CheckoutForm) error
	ListClaims(ctx context.Context) ([]model.Claim, error)
	ExportClaims(ctx context.Context, w io.Writer) error
	GetSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
}

// Handler реализует HTTP-обработчики сервиса пожертвований.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	sessions       *middleware.SessionCookies
	nonces         *middleware.Nonces
	cart           *cart.Adapter
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(
	s Service,
	logger *zap.Logger,
	auth *middleware.AuthMiddleware,
	sessions *middleware.SessionCookies,
	nonces *middleware.Nonces,
) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		sessions:       sessions,
		nonces:         nonces,
		cart:           cart.NewAdapter(s, nonces),
	}
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	h.logger.Error("request failed", zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func redirect(w http.ResponseWriter, r *http.Request, to string) {
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// session загружает сессию корзины покупателя, выпуская новую при отсутствии cookie.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*model.Session, error) {
	id, ok := h.sessions.Read(r)
	if !ok {
		id = middleware.NewSessionID()
		h.sessions.Write(w, id)
	}

	sess, err := h.service.LoadSession(r.Context(), id)
	if err != nil {
		return nil, err
	}

	h.cart.OnCartSessionLoad(sess)
	return sess, nil
}

func staffNonceID(r *http.Request) string {
	id, _ := middleware.GetIdentityFromContext(r.Context())
	return strconv.FormatInt(id.UserID, 10)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ShowProduct выводит страницу товара. Для пожертвования выводится поле суммы.
func (h *Handler) ShowProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.NotFound(w, r)
			return
		}
		h.internalError(w, err)
		return
	}

	sess, err := h.session(w, r)
	if err != nil {
		h.internalError(w, err)
		return
	}

	var amountField template.HTML
	if p.Kind == model.ProductKindDonation {
		price := product.Price(*p, sess)
		if price.IsZero() {
			price = p.RegularPrice
		}
		nonce := h.nonces.Create(middleware.NonceActionCart, sess.SessionID())
		amountField, err = h.cart.RenderAmountField(h.service.Donation(*p), price, nonce)
		if err != nil {
			h.internalError(w, err)
			return
		}
	}

	h.renderPage(w, "product", struct {
		Product      *model.Product
		PriceDisplay string
		AmountField  template.HTML
		ButtonText   string
	}{
		Product:      p,
		PriceDisplay: product.PriceDisplay(*p, false),
		AmountField:  amountField,
		ButtonText:   product.AddToCartText(*p),
	})
}

// AddToCart добавляет товар в корзину. Пожертвование проходит через проверку токена и суммы;
// отклонённая форма молча возвращает покупателя в корзину.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sess, err := h.session(w, r)
	if err != nil {
		h.internalError(w, err)
		return
	}

	productID, err := h.donationTarget(r)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.NotFound(w, r)
			return
		}
		h.internalError(w, err)
		return
	}

	if productID > 0 {
		if _, err := h.cart.ProcessDonation(r.Context(), sess, donationForm(r), productID); err != nil {
			h.internalError(w, err)
			return
		}
	} else if err := h.addSimpleProduct(r, sess); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.NotFound(w, r)
			return
		}
		h.internalError(w, err)
		return
	}

	if err := h.service.SaveSession(r.Context(), sess); err != nil {
		h.internalError(w, err)
		return
	}

	redirect(w, r, "/cart")
}

func donationForm(r *http.Request) cart.DonationForm {
	return cart.DonationForm{
		Nonce:       r.PostForm.Get(middleware.NonceField),
		Amount:      r.PostForm.Get(cart.FieldDonationAmount),
		AddDonation: r.PostForm.Get(cart.FieldAddDonation) != "",
	}
}

// donationTarget возвращает товар-пожертвование, который нужно добавить: указанный в форме,
// либо товар по умолчанию из настроек, если товар не указан. Для обычного товара возвращается 0.
func (h *Handler) donationTarget(r *http.Request) (int64, error) {
	raw := r.PostForm.Get("product_id")
	if raw == "" {
		settings, err := h.service.GetSettings(r.Context())
		if err != nil {
			return 0, err
		}
		return settings.DonationProductID, nil
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, repository.ErrProductNotFound
	}

	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		return 0, err
	}
	if p.Kind != model.ProductKindDonation {
		return 0, nil
	}
	return p.ID, nil
}

func (h *Handler) addSimpleProduct(r *http.Request, sess *model.Session) error {
	id, err := strconv.ParseInt(r.PostForm.Get("product_id"), 10, 64)
	if err != nil {
		return repository.ErrProductNotFound
	}

	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		return err
	}

	key := cart.LineKey(p.ID)
	line, ok := sess.GetLine(key)
	if !ok {
		line = model.CartLine{Key: key, ProductID: p.ID, Kind: p.Kind, Name: p.Name, Price: product.Price(*p, sess)}
	}
	if !ok || !product.For(*p).SoldIndividually {
		line.Quantity++
	}
	sess.SetLine(line)
	return nil
}

type cartLineView struct {
	Key      string
	Name     string
	Price    template.HTML
	Quantity int
}

// ShowCart выводит корзину.
func (h *Handler) ShowCart(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(w, r)
	if err != nil {
		h.internalError(w, err)
		return
	}

	nonce := h.nonces.Create(middleware.NonceActionCart, sess.SessionID())

	lines := sess.Lines()
	views := make([]cartLineView, 0, len(lines))
	for _, l := range lines {
		increment := validation.DefaultAmountIncrement
		if l.Kind == model.ProductKindDonation {
			if p, err := h.service.GetProduct(r.Context(), l.ProductID); err == nil {
				increment = h.service.Donation(*p).AmountIncrement()
			}
		}

		price, err := h.cart.RenderCartItemPrice(l, increment)
		if err != nil {
			h.internalError(w, err)
			return
		}
		views = append(views, cartLineView{Key: l.Key, Name: l.Name, Price: price, Quantity: l.Quantity})
	}

	control, err := h.cart.RenderDonationControl(sess, nonce)
	if err != nil {
		h.internalError(w, err)
		return
	}

	if err := h.service.SaveSession(r.Context(), sess); err != nil {
		h.internalError(w, err)
		return
	}

	h.renderPage(w, "cart", struct {
		NonceField      string
		Nonce           string
		Lines           []cartLineView
		DonationControl template.HTML
		Total           string
	}{
		NonceField:      middleware.NonceField,
		Nonce:           nonce,
		Lines:           views,
		DonationControl: control,
		Total:           cart.Total(sess).StringFixed(2),
	})
}

// UpdateCart применяет изменённые суммы пожертвований. Форма корзины также содержит
// поле добавления пожертвования: при его отправке пожертвование добавляется в корзину.
func (h *Handler) UpdateCart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sess, err := h.session(w, r)
	if err != nil {
		h.internalError(w, err)
		return
	}

	if r.PostForm.Get(cart.FieldAddDonation) != "" {
		settings, err := h.service.GetSettings(r.Context())
		if err != nil {
			h.internalError(w, err)
			return
		}

		_, err = h.cart.ProcessDonation(r.Context(), sess, donationForm(r), settings.DonationProductID)
		if errors.Is(err, repository.ErrProductNotFound) {
			h.logger.Warn("default donation product is not configured", zap.Int64("product", settings.DonationProductID))
		} else if err != nil {
			h.internalError(w, err)
			return
		}
	}

	if h.cart.OnCartUpdateSubmit(sess, r.PostForm) {
		h.logger.Debug("cart updated", zap.String("session", sess.SessionID()))
	}

	if err := h.service.SaveSession(r.Context(), sess); err != nil {
		h.internalError(w, err)
		return
	}

	redirect(w, r, "/cart")
}

// RemoveCartLine удаляет позицию корзины.
func (h *Handler) RemoveCartLine(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sess, err := h.session(w, r)
	if err != nil {
		h.internalError(w, err)
		return
	}

	if h.nonces.Verify(r.PostForm.Get(middleware.NonceField), middleware.NonceActionCart, sess.SessionID()) {
		h.cart.RemoveLine(sess, chi.URLParam(r, "key"))
	}

	if err := h.service.SaveSession(r.Context(), sess); err != nil {
		h.internalError(w, err)
		return
	}

	redirect(w, r, "/cart")
}

// ShowCheckout выводит форму оформления заказа с декларацией Gift Aid.
func (h *Handler) ShowCheckout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(w, r)
	if err != nil {
		h.internalError(w, err)
		return
	}

	if len(sess.Lines()) == 0 {
		redirect(w, r, "/cart")
		return
	}

	settings, err := h.service.GetSettings(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}

	field, err := h.cart.OnCheckoutRender(sess, settings.CharityName, false)
	if err != nil {
		h.internalError(w, err)
		return
	}

	h.renderPage(w, "checkout", struct {
		NonceField   string
		Nonce        string
		GiftAidField template.HTML
		Total        string
	}{
		NonceField:   middleware.NonceField,
		Nonce:        h.nonces.Create(middleware.NonceActionCheckout, sess.SessionID()),
		GiftAidField: field,
		Total:        cart.Total(sess).StringFixed(2),
	})
}

// Checkout оформляет заказ и сохраняет по нему данные Gift Aid.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sess, err := h.session(w, r)
	if err != nil {
		h.internalError(w, err)
		return
	}

	nonce := r.PostForm.Get(middleware.NonceField)
	if !h.nonces.Verify(nonce, middleware.NonceActionCheckout, sess.SessionID()) {
		redirect(w, r, "/checkout")
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), sess, model.Billing{
		FirstName: r.PostForm.Get("billing_first_name"),
		LastName:  r.PostForm.Get("billing_last_name"),
		Address1:  r.PostForm.Get("billing_address_1"),
		Postcode:  r.PostForm.Get("billing_postcode"),
	})
	switch {
	case errors.Is(err, service.ErrEmptyCart):
		redirect(w, r, "/cart")
		return
	case err != nil && order == nil:
		h.internalError(w, err)
		return
	case err != nil:
		// Заказ уже создан: данные Gift Aid по нему всё равно сохраняются.
		h.logger.Error("place order error", zap.Error(err), zap.Int64("order", order.ID))
	}

	err = h.service.OnCheckoutSubmit(r.Context(), order.ID, model.CheckoutForm{
		Nonce:     nonce,
		SessionID: sess.SessionID(),
		GiftAid:   r.PostForm.Get(cart.FieldGiftAidCheckbox),
	})
	if err != nil {
		h.logger.Error("save gift aid data error", zap.Error(err), zap.Int64("order", order.ID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.renderPage(w, "order-received", order)
}

// Login выполняет аутентификацию сотрудника и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	login, password := r.PostForm.Get("login"), r.PostForm.Get("password")
	if login == "" || password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), login, password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID, u.Capabilities)
	redirect(w, r, "/admin/giftaid")
}

// ShowGiftAid выводит настройки Gift Aid и таблицу заявок.
func (h *Handler) ShowGiftAid(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.GetSettings(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}

	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}

	list, err := h.service.ListClaims(r.Context())
	if err != nil {
		h.logger.Error("list claims error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var table bytes.Buffer
	if err := claims.RenderTable(&table, list, exportURL); err != nil {
		h.internalError(w, err)
		return
	}

	donations := make([]model.Product, 0, len(products))
	for _, p := range products {
		if p.Kind == model.ProductKindDonation {
			donations = append(donations, p)
		}
	}

	h.renderPage(w, "settings", struct {
		NonceField string
		Nonce      string
		Settings   *model.Settings
		Products   []model.Product
		Claims     template.HTML
	}{
		NonceField: middleware.NonceField,
		Nonce:      h.nonces.Create(middleware.NonceActionSettings, staffNonceID(r)),
		Settings:   settings,
		Products:   donations,
		Claims:     template.HTML(table.String()),
	})
}

// SaveSettings сохраняет настройки Gift Aid. Без действительного токена ничего не меняется.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !h.nonces.Verify(r.PostForm.Get(middleware.NonceField), middleware.NonceActionSettings, staffNonceID(r)) {
		redirect(w, r, "/admin/giftaid")
		return
	}

	productID, err := strconv.ParseInt(r.PostForm.Get("donation_product_id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err = h.service.SaveSettings(r.Context(), model.Settings{
		DonationProductID: productID,
		CharityName:       r.PostForm.Get("charity_name"),
	})
	if err != nil {
		h.internalError(w, err)
		return
	}

	redirect(w, r, "/admin/giftaid")
}

// ExportClaims отдаёт CSV-выгрузку заявок Gift Aid. Запрос без права manage_options
// завершается без заголовков и тела.
func (h *Handler) ExportClaims(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok || !id.Can(model.CapabilityManageOptions) {
		return
	}

	var buf bytes.Buffer
	if err := h.service.ExportClaims(r.Context(), &buf); err != nil {
		h.logger.Error("export claims error", zap.Error(err), zap.Int64("userID", id.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=gift-aid.csv")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type productRow struct {
	model.Product
	PriceDisplay  string
	IsDonation    bool
	DefaultAmount string
	Increment     string
}

// ListProducts выводит товары каталога с ценами в административном представлении.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}

	rows := make([]productRow, 0, len(products))
	for _, p := range products {
		row := productRow{
			Product:      p,
			PriceDisplay: product.PriceDisplay(p, true),
			IsDonation:   p.Kind == model.ProductKindDonation,
		}
		if row.IsDonation {
			if !p.RegularPrice.IsZero() {
				row.DefaultAmount = p.RegularPrice.StringFixed(2)
			}
			row.Increment = h.service.Donation(p).AmountIncrement().StringFixed(2)
		}
		rows = append(rows, row)
	}

	h.renderPage(w, "products", struct {
		NonceField string
		Nonce      string
		Rows       []productRow
	}{
		NonceField: middleware.NonceField,
		Nonce:      h.nonces.Create(middleware.NonceActionProductMeta, staffNonceID(r)),
		Rows:       rows,
	})
}

// CreateProduct добавляет товар в каталог.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	name := r.PostForm.Get("name")
	kind := model.ProductKind(r.PostForm.Get("kind"))
	if name == "" || (kind != model.ProductKindSimple && kind != model.ProductKindDonation) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p := model.Product{Name: name, Kind: kind, Taxable: true, NeedsShipping: true}
	if v, ok := validation.ParseAmount(r.PostForm.Get("regular_price")); ok {
		p.RegularPrice = v
	}
	if v, ok := validation.ParseAmount(r.PostForm.Get("amount_increment")); ok {
		p.AmountIncrement = v
	}
	if kind == model.ProductKindDonation {
		caps := product.For(p)
		p.Taxable, p.NeedsShipping, p.Virtual, p.SoldIndividually = caps.Taxable, caps.NeedsShipping, caps.Virtual, caps.SoldIndividually
	}
	if p.RegularPrice.IsNegative() {
		p.RegularPrice = decimal.Zero
	}

	if _, err := h.service.CreateProduct(r.Context(), p); err != nil {
		h.internalError(w, err)
		return
	}

	redirect(w, r, "/admin/products")
}

// SaveProductMeta сохраняет сумму по умолчанию и шаг суммы товара-пожертвования.
// Без действительного токена ничего не меняется.
func (h *Handler) SaveProductMeta(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !h.nonces.Verify(r.PostForm.Get(middleware.NonceField), middleware.NonceActionProductMeta, staffNonceID(r)) {
		redirect(w, r, "/admin/products")
		return
	}

	err := h.service.SaveDonationMeta(r.Context(), id,
		r.PostForm.Get("_regular_price"),
		r.PostForm.Get("_donation_amount_increment"),
	)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.NotFound(w, r)
			return
		}
		h.internalError(w, err)
		return
	}

	redirect(w, r, "/admin/products")
}
