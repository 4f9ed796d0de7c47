package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/giftaid-donations/internal/claims"
	"github.com/mmeshcher/giftaid-donations/internal/middleware"
	"github.com/mmeshcher/giftaid-donations/internal/model"
	"github.com/mmeshcher/giftaid-donations/internal/product"
	"github.com/mmeshcher/giftaid-donations/internal/repository"
)

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

const validNonce = "checkout-nonce"

type stubNonces struct{}

func (stubNonces) Verify(nonce, action, sessionID string) bool {
	return nonce == validNonce && action == middleware.NonceActionCheckout
}

type stubRepo struct {
	createUserID  int64
	createUserErr error
	createdCaps   []model.Capability

	getUser    *model.User
	getUserErr error

	products     map[int64]model.Product
	productLoads int

	savedMetaID        int64
	savedMetaAmount    *decimal.Decimal
	savedMetaIncrement decimal.Decimal

	sessions       map[string]*model.Session
	saveSessionErr error

	orders      map[int64]model.Order
	nextOrderID int64

	flags        map[int64]string
	snapshots    map[int64]model.DonationData
	candidates   []model.GiftAidDeclaration
	candidateErr error
	claimed      []int64

	settings      model.Settings
	settingsWrite []bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		products:  map[int64]model.Product{},
		sessions:  map[string]*model.Session{},
		orders:    map[int64]model.Order{},
		flags:     map[int64]string{},
		snapshots: map[int64]model.DonationData{},
	}
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, login string, passwordHash []byte, caps []model.Capability) (int64, error) {
	s.createdCaps = caps
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	s.productLoads++
	p, ok := s.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	return &p, nil
}

func (s *stubRepo) ListProducts(ctx context.Context) ([]model.Product, error) {
	var res []model.Product
	for id := int64(1); id <= int64(len(s.products)); id++ {
		if p, ok := s.products[id]; ok {
			res = append(res, p)
		}
	}
	return res, nil
}

func (s *stubRepo) CreateProduct(ctx context.Context, p model.Product) (int64, error) {
	p.ID = int64(len(s.products) + 1)
	s.products[p.ID] = p
	return p.ID, nil
}

func (s *stubRepo) SaveDonationMeta(ctx context.Context, id int64, defaultAmount *decimal.Decimal, increment decimal.Decimal) error {
	p, ok := s.products[id]
	if !ok {
		return repository.ErrProductNotFound
	}
	s.savedMetaID, s.savedMetaAmount, s.savedMetaIncrement = id, defaultAmount, increment
	p.AmountIncrement = increment
	s.products[id] = p
	return nil
}

func (s *stubRepo) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return sess, nil
}

func (s *stubRepo) SaveSession(ctx context.Context, sess *model.Session) error {
	if s.saveSessionErr != nil {
		return s.saveSessionErr
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *stubRepo) CreateOrder(ctx context.Context, o model.Order) (*model.Order, error) {
	s.nextOrderID++
	o.ID = s.nextOrderID
	o.CreatedAt = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	s.orders[o.ID] = o
	return &o, nil
}

func (s *stubRepo) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return &o, nil
}

func (s *stubRepo) SetGiftAidFlag(ctx context.Context, orderID int64, value string) error {
	s.flags[orderID] = value
	return nil
}

func (s *stubRepo) SaveDonationSnapshot(ctx context.Context, orderID int64, data model.DonationData) error {
	s.snapshots[orderID] = data
	return nil
}

// ListClaimCandidates отдаёт сохранённые декларации без фильтрации по полноте снимка,
// чтобы проверить фильтр сервиса.
func (s *stubRepo) ListClaimCandidates(ctx context.Context) ([]model.GiftAidDeclaration, error) {
	if s.candidateErr != nil {
		return nil, s.candidateErr
	}
	if s.candidates != nil {
		return s.candidates, nil
	}

	var res []model.GiftAidDeclaration
	for id := int64(1); id <= s.nextOrderID; id++ {
		d := model.GiftAidDeclaration{OrderID: id}
		if f, ok := s.flags[id]; ok {
			d.Flag = &f
		}
		if snap, ok := s.snapshots[id]; ok {
			d.FirstName, d.LastName, d.HouseNo = &snap.FirstName, &snap.LastName, &snap.HouseNo
			d.PostCode, d.DonationDate, d.Amount = &snap.PostCode, &snap.Date, &snap.Amount
		}
		res = append(res, d)
	}
	return res, nil
}

func (s *stubRepo) MarkClaimed(ctx context.Context, orderIDs []int64) error {
	s.claimed = append(s.claimed, orderIDs...)
	for _, id := range orderIDs {
		s.flags[id] = model.GiftAidFlagClaimed
	}
	return nil
}

func (s *stubRepo) GetSettings(ctx context.Context) (*model.Settings, error) {
	st := s.settings
	return &st, nil
}

func (s *stubRepo) SaveSettings(ctx context.Context, st model.Settings, overwrite bool) error {
	s.settingsWrite = append(s.settingsWrite, overwrite)
	if overwrite || s.settings == (model.Settings{}) {
		s.settings = st
	}
	return nil
}

func strPtr(v string) *string { return &v }

func newTestService(repo *stubRepo, opts Options) *Service {
	return NewService(repo, stubNonces{}, opts)
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := newStubRepo()
	repo.createUserErr = repository.ErrUserExists
	svc := newTestService(repo, Options{})

	_, err := svc.RegisterUser(context.Background(), "login", "pass", nil)
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestEnsureStaffUser(t *testing.T) {
	repo := newStubRepo()
	repo.createUserErr = repository.ErrUserExists
	svc := newTestService(repo, Options{})

	require.NoError(t, svc.EnsureStaffUser(context.Background(), "admin", "secret"))
	assert.Equal(t, []model.Capability{model.CapabilityManageOptions}, repo.createdCaps)

	repo.createdCaps = nil
	require.NoError(t, svc.EnsureStaffUser(context.Background(), "", ""))
	assert.Nil(t, repo.createdCaps)
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	repo := newStubRepo()
	repo.getUser = &model.User{
		ID:           1,
		Login:        "user",
		PasswordHash: hashPassword("user", "correct"),
	}
	svc := newTestService(repo, Options{})

	_, err := svc.AuthenticateUser(context.Background(), "user", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	u, err := svc.AuthenticateUser(context.Background(), "user", "correct")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)
}

func cartWithDonation(amount string) *model.Session {
	sess := model.NewSession("sess-1")
	a := decimal.RequireFromString(amount)
	sess.SetSessionValue(product.SessionDonationAmountKey, amount)
	sess.SetLine(model.CartLine{
		Key:            "p1",
		ProductID:      1,
		Kind:           model.ProductKindDonation,
		Name:           "Donation",
		Quantity:       1,
		Price:          a,
		DonationAmount: &a,
	})
	return sess
}

func placeOrder(t *testing.T, svc *Service, billing model.Billing, amount string) *model.Order {
	t.Helper()
	order, err := svc.PlaceOrder(context.Background(), cartWithDonation(amount), billing)
	require.NoError(t, err)
	return order
}

var janeDoe = model.Billing{FirstName: "Jane", LastName: "Doe", Address1: "12", Postcode: "AB1 2CD"}

func TestPlaceOrder(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, Options{})

	sess := cartWithDonation("25.00")
	order, err := svc.PlaceOrder(context.Background(), sess, janeDoe)
	require.NoError(t, err)

	assert.True(t, order.Total.Equal(decimal.NewFromInt(25)))
	assert.Empty(t, sess.Lines())
	assert.Contains(t, repo.sessions, "sess-1")

	_, err = svc.PlaceOrder(context.Background(), model.NewSession("empty"), janeDoe)
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestPlaceOrder_ReturnsOrderWhenCartNotCleared(t *testing.T) {
	repo := newStubRepo()
	repo.saveSessionErr = errors.New("connection reset")
	svc := newTestService(repo, Options{})

	order, err := svc.PlaceOrder(context.Background(), cartWithDonation("25.00"), janeDoe)
	require.Error(t, err)
	require.NotNil(t, order)
	assert.Contains(t, repo.orders, order.ID)

	require.NoError(t, svc.OnCheckoutSubmit(context.Background(), order.ID, model.CheckoutForm{Nonce: validNonce, GiftAid: "1"}))
	assert.Equal(t, "25.00", repo.snapshots[order.ID].Amount)
}

func TestOnCheckoutSubmit_RoundTrip(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, Options{})
	order := placeOrder(t, svc, janeDoe, "25.00")

	err := svc.OnCheckoutSubmit(context.Background(), order.ID, model.CheckoutForm{
		Nonce:     validNonce,
		SessionID: "sess-1",
		GiftAid:   "1",
	})
	require.NoError(t, err)

	assert.Equal(t, model.GiftAidFlagEligible, repo.flags[order.ID])
	assert.Equal(t, model.DonationData{
		FirstName: "Jane",
		LastName:  "Doe",
		HouseNo:   "12",
		PostCode:  "AB1 2CD",
		Date:      "2024-03-15 10:30:00",
		Amount:    "25.00",
	}, repo.snapshots[order.ID])

	list, err := svc.ListClaims(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)

	rows := claims.ExportRows(list)
	assert.Equal(t, "Jane,Doe,12,AB1 2CD,15/03/24,25.00\n", claims.FormatLine([]string{
		rows[0].FirstName, rows[0].LastName, rows[0].House, rows[0].Postcode, rows[0].DonationDate, rows[0].Amount,
	}))
}

func TestOnCheckoutSubmit_Unchecked(t *testing.T) {
	for _, value := range []string{"", "0"} {
		repo := newStubRepo()
		svc := newTestService(repo, Options{})
		order := placeOrder(t, svc, janeDoe, "10")

		err := svc.OnCheckoutSubmit(context.Background(), order.ID, model.CheckoutForm{Nonce: validNonce, GiftAid: value})
		require.NoError(t, err)

		_, flagged := repo.flags[order.ID]
		assert.False(t, flagged, "value %q must not set the flag", value)
		assert.Contains(t, repo.snapshots, order.ID, "snapshot is written regardless of the checkbox")

		list, err := svc.ListClaims(context.Background())
		require.NoError(t, err)
		assert.Empty(t, list)
	}
}

func TestOnCheckoutSubmit_InvalidNonce(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, Options{})
	order := placeOrder(t, svc, janeDoe, "10")

	for _, nonce := range []string{"", "forged"} {
		err := svc.OnCheckoutSubmit(context.Background(), order.ID, model.CheckoutForm{Nonce: nonce, GiftAid: "1"})
		require.NoError(t, err)
	}

	assert.Empty(t, repo.flags)
	assert.Empty(t, repo.snapshots)
}

func TestOnCheckoutSubmit_EscapesFlagValue(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, Options{})
	order := placeOrder(t, svc, janeDoe, "10")

	require.NoError(t, svc.OnCheckoutSubmit(context.Background(), order.ID, model.CheckoutForm{Nonce: validNonce, GiftAid: `"yes"`}))
	assert.Equal(t, "&#34;yes&#34;", repo.flags[order.ID])

	list, err := svc.ListClaims(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list, "only the exact value 1 is claimable")
}

func TestListClaims_Filters(t *testing.T) {
	repo := newStubRepo()
	repo.candidates = []model.GiftAidDeclaration{
		{OrderID: 1, Flag: strPtr("1"), FirstName: strPtr("A"), LastName: strPtr("B"), HouseNo: strPtr("1"),
			PostCode: strPtr("X1"), DonationDate: strPtr("2024-01-01 00:00:00"), Amount: strPtr("5.00")},
		{OrderID: 2, Flag: strPtr("claimed"), FirstName: strPtr("C"), LastName: strPtr("D"), HouseNo: strPtr("2"),
			PostCode: strPtr("X2"), DonationDate: strPtr("2024-01-02 00:00:00"), Amount: strPtr("6.00")},
		{OrderID: 3, Flag: strPtr("1"), FirstName: strPtr("E"), LastName: strPtr("F"), HouseNo: strPtr("3"),
			DonationDate: strPtr("2024-01-03 00:00:00"), Amount: strPtr("7.00")},
		{OrderID: 4, Flag: nil},
	}
	svc := newTestService(repo, Options{})

	list, err := svc.ListClaims(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].OrderID)
	assert.Equal(t, "X1", list[0].PostCode)
}

func TestListClaims_OrderedByDonationDate(t *testing.T) {
	claim := func(id int64, date string) model.GiftAidDeclaration {
		return model.GiftAidDeclaration{OrderID: id, Flag: strPtr("1"), FirstName: strPtr("A"), LastName: strPtr("B"),
			HouseNo: strPtr("1"), PostCode: strPtr("X1"), DonationDate: strPtr(date), Amount: strPtr("5.00")}
	}

	repo := newStubRepo()
	repo.candidates = []model.GiftAidDeclaration{
		claim(10, "2024-03-15 10:30:00"),
		claim(11, "2023-12-31 23:59:59"),
		claim(12, "2024-03-15 09:00:00"),
		claim(13, "2024-01-02 00:00:00"),
	}
	svc := newTestService(repo, Options{})

	list, err := svc.ListClaims(context.Background())
	require.NoError(t, err)

	ids := make([]int64, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.OrderID)
	}
	assert.Equal(t, []int64{11, 13, 12, 10}, ids)
}

func TestListClaims_Error(t *testing.T) {
	repo := newStubRepo()
	repo.candidateErr = errors.New("boom")
	svc := newTestService(repo, Options{})

	_, err := svc.ListClaims(context.Background())
	assert.Error(t, err)
}

func TestExportClaims(t *testing.T) {
	t.Run("no claims", func(t *testing.T) {
		svc := newTestService(newStubRepo(), Options{MarkClaimedOnExport: true})

		var buf bytes.Buffer
		require.NoError(t, svc.ExportClaims(context.Background(), &buf))
		assert.Equal(t, claims.NoClaimsMessage, buf.String())
	})

	t.Run("exports are repeatable by default", func(t *testing.T) {
		repo := newStubRepo()
		svc := newTestService(repo, Options{})
		order := placeOrder(t, svc, janeDoe, "25.00")
		require.NoError(t, svc.OnCheckoutSubmit(context.Background(), order.ID, model.CheckoutForm{Nonce: validNonce, GiftAid: "1"}))

		var first, second bytes.Buffer
		require.NoError(t, svc.ExportClaims(context.Background(), &first))
		require.NoError(t, svc.ExportClaims(context.Background(), &second))

		assert.Equal(t, first.String(), second.String())
		assert.Contains(t, first.String(), ",Jane,Doe,12,AB1 2CD,,,15/03/24,25.00\n")
		assert.Empty(t, repo.claimed)
	})

	t.Run("marks exported claims", func(t *testing.T) {
		repo := newStubRepo()
		svc := newTestService(repo, Options{MarkClaimedOnExport: true})
		order := placeOrder(t, svc, janeDoe, "25.00")
		require.NoError(t, svc.OnCheckoutSubmit(context.Background(), order.ID, model.CheckoutForm{Nonce: validNonce, GiftAid: "1"}))

		var buf bytes.Buffer
		require.NoError(t, svc.ExportClaims(context.Background(), &buf))
		assert.Equal(t, []int64{order.ID}, repo.claimed)

		list, err := svc.ListClaims(context.Background())
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestSaveDonationMeta(t *testing.T) {
	tests := []struct {
		name          string
		defaultAmount string
		increment     string
		wantAmount    string
		wantIncrement string
	}{
		{name: "values kept", defaultAmount: "10", increment: "0.5", wantAmount: "10", wantIncrement: "0.5"},
		{name: "increment rounded", defaultAmount: "", increment: "1.239", wantIncrement: "1.24"},
		{name: "empty increment", defaultAmount: "abc", increment: "", wantIncrement: "0.01"},
		{name: "non numeric increment", defaultAmount: "", increment: "five", wantIncrement: "0.01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newStubRepo()
			repo.products[1] = model.Product{ID: 1, Kind: model.ProductKindDonation}
			svc := newTestService(repo, Options{})

			require.NoError(t, svc.SaveDonationMeta(context.Background(), 1, tt.defaultAmount, tt.increment))

			if tt.wantAmount == "" {
				assert.Nil(t, repo.savedMetaAmount)
			} else {
				require.NotNil(t, repo.savedMetaAmount)
				assert.Equal(t, tt.wantAmount, repo.savedMetaAmount.String())
			}
			assert.True(t, repo.savedMetaIncrement.Equal(decimal.RequireFromString(tt.wantIncrement)))
		})
	}
}

func TestDonation_IncrementCachedUntilMetaSaved(t *testing.T) {
	repo := newStubRepo()
	repo.products[1] = model.Product{ID: 1, Kind: model.ProductKindDonation, AmountIncrement: decimal.RequireFromString("0.5")}
	svc := newTestService(repo, Options{})

	p := repo.products[1]
	assert.Equal(t, "0.5", svc.Donation(p).AmountIncrement().String())
	assert.Equal(t, "0.5", svc.Donation(p).AmountIncrement().String())
	assert.Equal(t, 1, repo.productLoads)

	require.NoError(t, svc.SaveDonationMeta(context.Background(), 1, "", "2"))
	assert.Equal(t, "2", svc.Donation(p).AmountIncrement().String())
	assert.Equal(t, 2, repo.productLoads)
}

func TestLoadSession_NewWhenMissing(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, Options{})

	sess, err := svc.LoadSession(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", sess.ID)
	assert.Empty(t, sess.Lines())

	require.NoError(t, svc.SaveSession(context.Background(), sess))
	assert.NotContains(t, repo.sessions, "fresh", "untouched session is not persisted")

	sess.SetSessionValue("k", "v")
	require.NoError(t, svc.SaveSession(context.Background(), sess))
	assert.Contains(t, repo.sessions, "fresh")
}

func TestSeedSettings(t *testing.T) {
	repo := newStubRepo()
	repo.products[1] = model.Product{ID: 1, Kind: model.ProductKindSimple}
	repo.products[2] = model.Product{ID: 2, Kind: model.ProductKindDonation}
	svc := newTestService(repo, Options{})

	require.NoError(t, svc.SeedSettings(context.Background(), model.Settings{CharityName: "Cats Protection"}))
	assert.Equal(t, model.Settings{DonationProductID: 2, CharityName: "Cats Protection"}, repo.settings)
	assert.Equal(t, []bool{false}, repo.settingsWrite)

	require.NoError(t, svc.SaveSettings(context.Background(), model.Settings{DonationProductID: 2, CharityName: "Dogs Trust"}))
	got, err := svc.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Dogs Trust", got.CharityName)
}
