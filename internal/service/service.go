// Package service реализует бизнес-логику сервиса пожертвований Gift Aid.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/giftaid-donations/internal/cart"
	"github.com/mmeshcher/giftaid-donations/internal/claims"
	"github.com/mmeshcher/giftaid-donations/internal/middleware"
	"github.com/mmeshcher/giftaid-donations/internal/model"
	"github.com/mmeshcher/giftaid-donations/internal/product"
	"github.com/mmeshcher/giftaid-donations/internal/repository"
	"github.com/mmeshcher/giftaid-donations/internal/validation"
)

var (
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmptyCart возвращается при попытке оформить заказ с пустой корзиной.
	ErrEmptyCart = errors.New("cart is empty")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, caps []model.Capability) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
	CreateProduct(ctx context.Context, p model.Product) (int64, error)
	SaveDonationMeta(ctx context.Context, id int64, defaultAmount *decimal.Decimal, increment decimal.Decimal) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	SaveSession(ctx context.Context, sess *model.Session) error
	CreateOrder(ctx context.Context, o model.Order) (*model.Order, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	SetGiftAidFlag(ctx context.Context, orderID int64, value string) error
	SaveDonationSnapshot(ctx context.Context, orderID int64, data model.DonationData) error
	ListClaimCandidates(ctx context.Context) ([]model.GiftAidDeclaration, error)
	MarkClaimed(ctx context.Context, orderIDs []int64) error
	GetSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings, overwrite bool) error
}

// NonceVerifier проверяет токены защиты от подделки запроса.
type NonceVerifier interface {
	Verify(nonce, action, sessionID string) bool
}

// Options содержит параметры поведения сервиса.
type Options struct {
	// MarkClaimedOnExport переводит выгруженные заявки в состояние "claimed".
	MarkClaimedOnExport bool
}

// Service содержит бизнес-логику сервиса пожертвований.
type Service struct {
	repo   Repository
	nonces NonceVerifier
	opts   Options

	donations sync.Map
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository, nonces NonceVerifier, opts Options) *Service {
	return &Service{
		repo:   repo,
		nonces: nonces,
		opts:   opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового сотрудника.
func (s *Service) RegisterUser(ctx context.Context, login, password string, caps []model.Capability) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed, caps)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// EnsureStaffUser создаёт администратора с правом manage_options, если его ещё нет.
func (s *Service) EnsureStaffUser(ctx context.Context, login, password string) error {
	if login == "" || password == "" {
		return nil
	}
	_, err := s.RegisterUser(ctx, login, password, []model.Capability{model.CapabilityManageOptions})
	if err != nil && !errors.Is(err, repository.ErrUserExists) {
		return fmt.Errorf("ensure staff user: %w", err)
	}
	return nil
}

// AuthenticateUser проверяет логин и пароль сотрудника и возвращает его.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// GetProduct возвращает товар каталога.
func (s *Service) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts возвращает товары каталога.
func (s *Service) ListProducts(ctx context.Context) ([]model.Product, error) {
	return s.repo.ListProducts(ctx)
}

// CreateProduct добавляет товар. Шаг суммы пожертвования нормализуется.
func (s *Service) CreateProduct(ctx context.Context, p model.Product) (int64, error) {
	if p.Kind == model.ProductKindDonation {
		p.AmountIncrement = validation.NormalizeIncrement(p.AmountIncrement.String())
	}
	return s.repo.CreateProduct(ctx, p)
}

// Donation возвращает обёртку товара-пожертвования с кэшем шага суммы.
func (s *Service) Donation(p model.Product) *product.Donation {
	if v, ok := s.donations.Load(p.ID); ok {
		return v.(*product.Donation)
	}

	id := p.ID
	d := product.NewDonation(p, func() (decimal.Decimal, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		stored, err := s.repo.GetProduct(ctx, id)
		if err != nil {
			return decimal.Zero, err
		}
		return stored.AmountIncrement, nil
	})

	actual, _ := s.donations.LoadOrStore(p.ID, d)
	return actual.(*product.Donation)
}

// SaveDonationMeta сохраняет сумму по умолчанию и шаг суммы пожертвования.
// Пустая или нечисловая сумма по умолчанию сбрасывается, шаг округляется до двух знаков
// или принимает значение 0.01.
func (s *Service) SaveDonationMeta(ctx context.Context, id int64, defaultAmount, increment string) error {
	var amount *decimal.Decimal
	if v, ok := validation.ParseAmount(defaultAmount); ok {
		amount = &v
	}

	if err := s.repo.SaveDonationMeta(ctx, id, amount, validation.NormalizeIncrement(increment)); err != nil {
		return err
	}

	s.donations.Delete(id)
	return nil
}

// LoadSession загружает сессию корзины; для неизвестного идентификатора создаётся новая.
func (s *Service) LoadSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return model.NewSession(id), nil
		}
		return nil, err
	}
	return sess, nil
}

// SaveSession сохраняет сессию корзины, если она изменялась.
func (s *Service) SaveSession(ctx context.Context, sess *model.Session) error {
	if !sess.Dirty() {
		return nil
	}
	return s.repo.SaveSession(ctx, sess)
}

// PlaceOrder оформляет заказ из содержимого корзины и очищает её. Если заказ создан,
// но очищенную корзину сохранить не удалось, возвращается и заказ, и ошибка.
func (s *Service) PlaceOrder(ctx context.Context, sess *model.Session, billing model.Billing) (*model.Order, error) {
	if len(sess.Lines()) == 0 {
		return nil, ErrEmptyCart
	}

	order, err := s.repo.CreateOrder(ctx, model.Order{
		SessionID: sess.SessionID(),
		Billing:   billing,
		Total:     cart.Total(sess),
	})
	if err != nil {
		return nil, err
	}

	sess.Clear()
	if err := s.repo.SaveSession(ctx, sess); err != nil {
		return order, fmt.Errorf("clear cart: %w", err)
	}

	return order, nil
}

// OnCheckoutSubmit сохраняет флаг Gift Aid и снимок платёжных данных заказа.
// Без действительного токена ничего не записывается. Флаг пишется только для
// отмеченного флажка, снимок - всегда. Записи выполняются независимо друг от друга.
func (s *Service) OnCheckoutSubmit(ctx context.Context, orderID int64, form model.CheckoutForm) error {
	if !s.nonces.Verify(form.Nonce, middleware.NonceActionCheckout, form.SessionID) {
		return nil
	}

	if validation.IsTruthy(form.GiftAid) {
		if err := s.repo.SetGiftAidFlag(ctx, orderID, html.EscapeString(form.GiftAid)); err != nil {
			return err
		}
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	return s.repo.SaveDonationSnapshot(ctx, orderID, model.DonationData{
		FirstName: order.Billing.FirstName,
		LastName:  order.Billing.LastName,
		HouseNo:   order.Billing.Address1,
		PostCode:  order.Billing.Postcode,
		Date:      order.Date(),
		Amount:    order.Total.StringFixed(2),
	})
}

// ListClaims возвращает заявки Gift Aid, упорядоченные по дате пожертвования.
func (s *Service) ListClaims(ctx context.Context) ([]model.Claim, error) {
	candidates, err := s.repo.ListClaimCandidates(ctx)
	if err != nil {
		return nil, err
	}

	res := make([]model.Claim, 0, len(candidates))
	for _, d := range candidates {
		if !d.Claimable() {
			continue
		}
		res = append(res, model.Claim{
			OrderID:   d.OrderID,
			FirstName: *d.FirstName,
			LastName:  *d.LastName,
			House:     *d.HouseNo,
			PostCode:  *d.PostCode,
			Date:      *d.DonationDate,
			Amount:    *d.Amount,
		})
	}

	// Дата хранится как "2006-01-02 15:04:05", поэтому строковый порядок совпадает с хронологическим.
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Date < res[j].Date
	})

	return res, nil
}

// ExportClaims записывает выгрузку заявок в w. Если включена отметка выгруженных заявок,
// после успешной записи они переводятся в состояние "claimed".
func (s *Service) ExportClaims(ctx context.Context, w io.Writer) error {
	list, err := s.ListClaims(ctx)
	if err != nil {
		return err
	}

	if err := claims.WriteCSV(w, claims.ExportRows(list)); err != nil {
		return err
	}

	if !s.opts.MarkClaimedOnExport || len(list) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.OrderID)
	}
	return s.repo.MarkClaimed(ctx, ids)
}

// GetSettings возвращает настройки Gift Aid.
func (s *Service) GetSettings(ctx context.Context) (*model.Settings, error) {
	return s.repo.GetSettings(ctx)
}

// SaveSettings сохраняет настройки Gift Aid.
func (s *Service) SaveSettings(ctx context.Context, settings model.Settings) error {
	return s.repo.SaveSettings(ctx, settings, true)
}

// SeedSettings сохраняет значения по умолчанию, не затирая уже заданные.
// Если товар-пожертвование не указан, берётся первый такой товар каталога.
func (s *Service) SeedSettings(ctx context.Context, settings model.Settings) error {
	if settings.DonationProductID == 0 {
		products, err := s.repo.ListProducts(ctx)
		if err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}
		for _, p := range products {
			if p.Kind == model.ProductKindDonation {
				settings.DonationProductID = p.ID
				break
			}
		}
	}
	return s.repo.SaveSettings(ctx, settings, false)
}
