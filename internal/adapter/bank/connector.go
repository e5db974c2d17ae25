package bank

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/sunnypayments/core/internal/domain"
	"github.com/sunnypayments/core/internal/ports"
	"github.com/sunnypayments/core/pkg/config"
)

// AuthResponse is the parsed outcome of one authorization exchange.
type AuthResponse struct {
	Approved      bool
	ResponseCode  string
	Message       string
	TransactionID string
	AuthCode      string
	CardTail      string
}

// RailFault reports whether the response indicates a rail-side fault
// rather than an issuer decision about the payer.
func (r *AuthResponse) RailFault() bool {
	return IsRailFault(r.ResponseCode)
}

// Connector drives one stateful authorization session against a bank
// endpoint: TLS socket, sign-on handshake, then one authorization at a
// time framed with a two-byte big-endian length prefix.
type Connector struct {
	cfg   config.BankRailConfig
	creds ports.CredentialSource

	conn      net.Conn
	connected bool
	cardKey   []byte
	mu        sync.Mutex

	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func NewConnector(cfg config.BankRailConfig, creds ports.CredentialSource, log *zap.Logger) *Connector {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    fmt.Sprintf("bank-%s:%d", cfg.Host, cfg.Port),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Bank circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Connector{
		cfg:     cfg,
		creds:   creds,
		breaker: breaker,
		log:     log,
	}
}

// Connect dials the endpoint and performs the sign-on exchange. A failed
// handshake tears the socket down so no half-open session survives.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	credential, err := c.creds.Credential(ctx, c.cfg.CredentialName)
	if err != nil {
		return fmt.Errorf("%w: resolve credential: %v", domain.ErrBankConnectionFailed, err)
	}
	key := sha256.Sum256([]byte(credential))
	c.cardKey = key[:]

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 10 * time.Second}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", domain.ErrBankConnectionFailed, addr, err)
	}

	if err := c.signOn(conn); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.connected = true
	c.log.Info("Bank session established",
		zap.String("endpoint", addr),
		zap.String("merchant_id", c.cfg.MerchantID),
	)
	return nil
}

func (c *Connector) signOn(conn net.Conn) error {
	msg := NewMessage(mtiNetworkRequest)
	msg.Set(fieldTransmission, time.Now().UTC().Format("0102150405"))
	msg.Set(fieldTraceNumber, newTraceNumber())
	msg.Set(fieldTerminalID, c.cfg.TerminalID)
	msg.Set(fieldMerchantID, c.cfg.MerchantID)

	reply, err := c.exchange(conn, msg, c.messageTimeout())
	if err != nil {
		return fmt.Errorf("%w: sign-on: %v", domain.ErrBankConnectionFailed, err)
	}
	if reply.MTI != mtiNetworkReply || reply.Get(fieldResponseCode) != ResponseCodeApproved {
		return fmt.Errorf("%w: sign-on rejected with code %q",
			domain.ErrBankConnectionFailed, reply.Get(fieldResponseCode))
	}
	return nil
}

// Authorize sends one purchase authorization and parses the reply.
// Transport errors come back as ErrBankTimeout / ErrBankConnectionFailed;
// issuer decisions, including declines, come back inside the response.
func (c *Connector) Authorize(ctx context.Context, intent *domain.PaymentIntent, transactionID, stepUpToken string) (*AuthResponse, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.buildAuthRequest(intent, transactionID, stepUpToken)
	if err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.exchange(c.conn, msg, c.messageTimeout())
	})
	if err != nil {
		c.teardownLocked()
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("%w: no reply within %s", domain.ErrBankTimeout, c.messageTimeout())
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", domain.ErrRailFault)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrBankConnectionFailed, err)
	}

	reply := result.(*Message)
	if reply.MTI != mtiAuthResponse {
		c.teardownLocked()
		return nil, fmt.Errorf("%w: unexpected MTI %q", domain.ErrBankConnectionFailed, reply.MTI)
	}

	code := reply.Get(fieldResponseCode)
	success, message := DescribeResponseCode(code)
	resp := &AuthResponse{
		Approved:      success,
		ResponseCode:  code,
		Message:       message,
		TransactionID: reply.Get(fieldRetrievalRef),
		AuthCode:      reply.Get(fieldAuthCode),
		CardTail:      reply.Get(fieldMerchantID),
	}

	c.log.Info("Authorization response",
		zap.String("transaction_id", resp.TransactionID),
		zap.String("response_code", code),
		zap.Bool("approved", success),
	)
	return resp, nil
}

func (c *Connector) buildAuthRequest(intent *domain.PaymentIntent, transactionID, stepUpToken string) (*Message, error) {
	if intent.Card == nil {
		return nil, fmt.Errorf("%w: bank rail requires card details", domain.ErrValidation)
	}

	currency, ok := currencyNumeric[intent.Currency]
	if !ok {
		return nil, &domain.ValidationError{Field: "currency", Detail: "unsupported ISO 4217 code"}
	}

	encCard, err := c.encryptCardData(intent.Card.Number)
	if err != nil {
		return nil, fmt.Errorf("encrypt card data: %w", err)
	}

	msg := NewMessage(mtiAuthRequest)
	msg.Set(fieldPAN, encCard)
	msg.Set(fieldProcessingCode, processingCodePurchase)
	msg.Set(fieldAmount, fmt.Sprintf("%012d", intent.Amount))
	msg.Set(fieldTransmission, time.Now().UTC().Format("0102150405"))
	msg.Set(fieldTraceNumber, newTraceNumber())
	msg.Set(fieldRetrievalRef, transactionID)
	msg.Set(fieldTerminalID, c.cfg.TerminalID)
	msg.Set(fieldMerchantID, c.cfg.MerchantID)
	msg.Set(fieldMerchantName, c.cfg.MerchantNameLoc)
	msg.Set(fieldCurrency, currency)
	if stepUpToken != "" {
		msg.Set(fieldAdditionalData, stepUpToken)
	}
	return msg, nil
}

// encryptCardData seals the PAN with the rail credential so cleartext card
// numbers never cross the wire or land in a captured frame.
func (c *Connector) encryptCardData(pan string) (string, error) {
	block, err := aes.NewCipher(c.cardKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(pan), nil)
	return hex.EncodeToString(sealed), nil
}

// exchange writes one framed message and reads one framed reply. Frames
// carry a two-byte big-endian length prefix.
func (c *Connector) exchange(conn net.Conn, msg *Message, timeout time.Duration) (*Message, error) {
	payload, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	if len(payload) > 0xFFFF {
		return nil, fmt.Errorf("message exceeds frame size: %d bytes", len(payload))
	}

	deadline := time.Now().Add(timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	defer conn.SetDeadline(time.Time{})

	frame := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(frame[:2], uint16(len(payload)))
	copy(frame[2:], payload)
	if _, err := conn.Write(frame); err != nil {
		return nil, err
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	replyLen := binary.BigEndian.Uint16(lenBuf[:])
	reply := make([]byte, replyLen)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return nil, err
	}

	return Decode(reply)
}

func (c *Connector) messageTimeout() time.Duration {
	if c.cfg.MessageTimeout > 0 {
		return c.cfg.MessageTimeout
	}
	return 30 * time.Second
}

// Healthy implements the pool's connection check.
func (c *Connector) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.breaker.State() != gobreaker.StateOpen
}

// Close disconnects the session. Safe on an already-closed connector.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	return nil
}

func (c *Connector) teardownLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

// newTraceNumber returns a six-digit system trace audit number.
func newTraceNumber() string {
	var b [4]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return "000001"
	}
	return fmt.Sprintf("%06d", binary.BigEndian.Uint32(b[:])%1000000)
}
