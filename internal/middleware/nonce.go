package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// NonceField - имя поля формы, в котором передаётся токен защиты от подделки запроса.
const NonceField = "_nonce"

// Действия, для которых выпускаются токены.
const (
	NonceActionCart        = "cart"
	NonceActionCheckout    = "process-checkout"
	NonceActionProductMeta = "save-product-meta"
	NonceActionSettings    = "giftaid-settings"
)

// nonceTick - половина суток; токен действителен в текущем и предыдущем интервале.
const nonceTick = 12 * time.Hour

// Nonces выпускает и проверяет токены, привязанные к действию и сессии.
type Nonces struct {
	secret []byte
	now    func() time.Time
}

// NewNonces создаёт генератор токенов с указанным секретом.
func NewNonces(secret string) *Nonces {
	return &Nonces{
		secret: secretOrRandom(secret),
		now:    time.Now,
	}
}

// Create выпускает токен для действия в рамках сессии.
func (n *Nonces) Create(action, sessionID string) string {
	return n.sign(n.tick(), action, sessionID)
}

// Verify проверяет токен, выпущенный в текущем или предыдущем интервале.
func (n *Nonces) Verify(nonce, action, sessionID string) bool {
	if nonce == "" {
		return false
	}
	tick := n.tick()
	for _, t := range []int64{tick, tick - 1} {
		if hmac.Equal([]byte(nonce), []byte(n.sign(t, action, sessionID))) {
			return true
		}
	}
	return false
}

func (n *Nonces) tick() int64 {
	return n.now().Unix()/int64(nonceTick.Seconds()) + 1
}

func (n *Nonces) sign(tick int64, action, sessionID string) string {
	mac := hmac.New(sha256.New, n.secret)
	mac.Write([]byte(strconv.FormatInt(tick, 10) + "|" + action + "|" + sessionID))
	return hex.EncodeToString(mac.Sum(nil))[:20]
}
