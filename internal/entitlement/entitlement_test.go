package entitlement

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cobblepod/internal/apperr"
	"cobblepod/internal/model"
	"cobblepod/internal/receipt"
)

// --- JWS test fixture plumbing, mirroring internal/receipt's test helpers
// but kept local since those are unexported across package boundaries. ---

func buildChain(t *testing.T) (key *ecdsa.PrivateKey, leafDER, rootPEM []byte) {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	rootCert, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Test Leaf"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err = x509.CreateCertificate(rand.Reader, leafTmpl, rootCert, &leafKey.PublicKey, rootKey)
	require.NoError(t, err)

	rootPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER})
	return leafKey, leafDER, rootPEM
}

func sign(t *testing.T, key *ecdsa.PrivateKey, leafDER []byte, payload map[string]any) string {
	t.Helper()

	header := map[string]any{"alg": "ES256", "x5c": []string{base64.StdEncoding.EncodeToString(leafDER)}}
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(t, err)

	headerB64 := base64.RawURLEncoding.EncodeToString(headerJSON)
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadJSON)
	signingInput := headerB64 + "." + payloadB64

	digest := sha256.Sum256([]byte(signingInput))
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	require.NoError(t, err)

	rBytes := leftPad(r.Bytes(), 32)
	sBytes := leftPad(s.Bytes(), 32)
	sig := append(rBytes, sBytes...)

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// --- fake in-memory Store ---

type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*model.User // keyed by deviceUUID
	records  map[string]*model.PurchaseRecord
	bindings map[string][]model.DeviceBinding
	seenNote map[string]bool
	txnLogs  []model.TransactionLog
	events   []model.PurchaseEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]*model.User{},
		records:  map[string]*model.PurchaseRecord{},
		bindings: map[string][]model.DeviceBinding{},
		seenNote: map[string]bool{},
	}
}

func (f *fakeStore) GetUserByDevice(ctx context.Context, deviceUUID string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[deviceUUID]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) UpsertUser(ctx context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.users[u.DeviceUUID] = &cp
	return nil
}

func (f *fakeStore) GetPurchaseRecord(ctx context.Context, originalTransactionID string) (*model.PurchaseRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.records[originalTransactionID]
	if !ok {
		return nil, apperr.NotFound("purchase record not found")
	}
	cp := *pr
	return &cp, nil
}

func (f *fakeStore) UpsertPurchaseRecord(ctx context.Context, pr *model.PurchaseRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *pr
	f.records[pr.OriginalTransactionID] = &cp
	return nil
}

func (f *fakeStore) ListDeviceBindings(ctx context.Context, originalTransactionID string) ([]model.DeviceBinding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]model.DeviceBinding(nil), f.bindings[originalTransactionID]...)
	return out, nil
}

func (f *fakeStore) BindDevice(ctx context.Context, b *model.DeviceBinding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing := f.bindings[b.OriginalTransactionID]
	for i, e := range existing {
		if e.DeviceUUID == b.DeviceUUID {
			existing[i] = *b
			f.bindings[b.OriginalTransactionID] = existing
			return nil
		}
	}
	f.bindings[b.OriginalTransactionID] = append(existing, *b)
	if pr, ok := f.records[b.OriginalTransactionID]; ok {
		pr.DeviceCount = len(f.bindings[b.OriginalTransactionID])
	}
	return nil
}

func (f *fakeStore) UnbindDevice(ctx context.Context, originalTransactionID, deviceUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing := f.bindings[originalTransactionID]
	for i, e := range existing {
		if e.DeviceUUID == deviceUUID {
			f.bindings[originalTransactionID] = append(existing[:i], existing[i+1:]...)
			if pr, ok := f.records[originalTransactionID]; ok && pr.DeviceCount > 0 {
				pr.DeviceCount--
			}
			return nil
		}
	}
	return apperr.NotFound("device binding not found")
}

func (f *fakeStore) AppendTransactionLog(ctx context.Context, l *model.TransactionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txnLogs = append(f.txnLogs, *l)
	return nil
}

func (f *fakeStore) NotificationSeen(ctx context.Context, notificationUUID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seenNote[notificationUUID], nil
}

func (f *fakeStore) AppendNotificationLog(ctx context.Context, l *model.NotificationLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seenNote[l.NotificationUUID] {
		return apperr.Duplicate("notification already processed")
	}
	f.seenNote[l.NotificationUUID] = true
	return nil
}

func (f *fakeStore) AppendPurchaseEvent(ctx context.Context, e *model.PurchaseEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeStore) UsersByOriginalTransactionID(ctx context.Context, originalTransactionID string) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.User
	for _, u := range f.users {
		if u.OriginalTransactionID == originalTransactionID {
			out = append(out, *u)
		}
	}
	return out, nil
}

func newTestProcessor(t *testing.T) (*Processor, *ecdsa.PrivateKey, []byte, *fakeStore) {
	t.Helper()
	key, leafDER, rootPEM := buildChain(t)
	v, err := receipt.NewVerifier(receipt.TrustConfig{RootCAPEM: rootPEM})
	require.NoError(t, err)
	fs := newFakeStore()
	return New(fs, v, Config{}), key, leafDER, fs
}

func TestVerifyPurchaseNewSubscriptionMarksVIP(t *testing.T) {
	p, key, leafDER, _ := newTestProcessor(t)
	expires := time.Now().Add(30 * 24 * time.Hour).UnixMilli()

	token := sign(t, key, leafDER, map[string]any{
		"originalTransactionId": "otx-1",
		"productId":             "monthly",
		"expiresDate":           float64(expires),
		"environment":           "Production",
	})

	res, err := p.VerifyPurchase(context.Background(), VerifyPurchaseInput{
		JWSToken: token, DeviceUUID: "dev-1", EventType: "purchase",
	})
	require.NoError(t, err)
	require.True(t, res.IsVIP)
	require.Equal(t, []string{"dev-1"}, res.BoundDevices)
	require.Empty(t, res.KickedDevice)
}

func TestVerifyPurchaseExpireNeverRegresses(t *testing.T) {
	p, key, leafDER, fs := newTestProcessor(t)
	laterExpire := time.Now().Add(60 * 24 * time.Hour).UnixMilli()
	fs.records["otx-2"] = &model.PurchaseRecord{
		OriginalTransactionID: "otx-2", ProductID: "monthly",
		ExpireDateMs: &laterExpire, Status: model.StatusActive, Environment: model.EnvProduction,
	}

	earlierExpire := time.Now().Add(5 * 24 * time.Hour).UnixMilli()
	token := sign(t, key, leafDER, map[string]any{
		"originalTransactionId": "otx-2",
		"productId":             "monthly",
		"expiresDate":           float64(earlierExpire),
	})

	res, err := p.VerifyPurchase(context.Background(), VerifyPurchaseInput{JWSToken: token, DeviceUUID: "dev-1", EventType: "restore"})
	require.NoError(t, err)
	require.Equal(t, laterExpire, *res.VIPExpireTimeMs, "expire must never regress")
}

func TestVerifyPurchaseRejectsMissingOriginalTransactionID(t *testing.T) {
	p, key, leafDER, _ := newTestProcessor(t)
	token := sign(t, key, leafDER, map[string]any{"productId": "monthly"})

	_, err := p.VerifyPurchase(context.Background(), VerifyPurchaseInput{JWSToken: token, DeviceUUID: "dev-1"})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestBindDeviceKicksOldestWhenFull(t *testing.T) {
	p, key, leafDER, _ := newTestProcessor(t)
	expires := time.Now().Add(30 * 24 * time.Hour).UnixMilli()
	mk := func() string {
		return sign(t, key, leafDER, map[string]any{
			"originalTransactionId": "otx-3", "productId": "monthly", "expiresDate": float64(expires),
		})
	}

	_, err := p.VerifyPurchase(context.Background(), VerifyPurchaseInput{JWSToken: mk(), DeviceUUID: "dev-a"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = p.VerifyPurchase(context.Background(), VerifyPurchaseInput{JWSToken: mk(), DeviceUUID: "dev-b"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	res, err := p.VerifyPurchase(context.Background(), VerifyPurchaseInput{JWSToken: mk(), DeviceUUID: "dev-c"})
	require.NoError(t, err)
	require.Equal(t, "dev-a", res.KickedDevice, "oldest binding is kicked")
	require.ElementsMatch(t, []string{"dev-b", "dev-c"}, res.BoundDevices)
}

func TestUnbindRejectsSelfTarget(t *testing.T) {
	p, _, _, _ := newTestProcessor(t)
	err := p.UnbindDevice(context.Background(), "dev-1", "dev-1", "otx-4")
	require.Error(t, err)
}

func TestHandleServerNotificationIsIdempotent(t *testing.T) {
	p, key, leafDER, _ := newTestProcessor(t)
	token := sign(t, key, leafDER, map[string]any{
		"notificationType": "TEST",
		"notificationUUID": "note-1",
	})

	first, err := p.HandleServerNotification(context.Background(), token)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := p.HandleServerNotification(context.Background(), token)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
}

func TestHandleServerNotificationAppliesActiveTransition(t *testing.T) {
	p, key, leafDER, fs := newTestProcessor(t)
	expires := time.Now().Add(30 * 24 * time.Hour).UnixMilli()

	signedTxn := sign(t, key, leafDER, map[string]any{
		"originalTransactionId": "otx-5",
		"transactionId":         "txn-5",
		"productId":             "monthly",
		"expiresDate":           float64(expires),
	})

	fs.users["dev-5"] = &model.User{DeviceUUID: "dev-5", OriginalTransactionID: "otx-5"}

	envelope := sign(t, key, leafDER, map[string]any{
		"notificationType": "DID_RENEW",
		"notificationUUID": "note-2",
		"data": map[string]any{
			"signedTransactionInfo": signedTxn,
		},
	})

	res, err := p.HandleServerNotification(context.Background(), envelope)
	require.NoError(t, err)
	require.True(t, res.IsVIP)
	require.Equal(t, expires, *res.VIPExpireTimeMs)

	updated, err := fs.GetUserByDevice(context.Background(), "dev-5")
	require.NoError(t, err)
	require.True(t, updated.IsVIP)
}

func TestCheckLoginDetectsMissingBindingAndDowngrades(t *testing.T) {
	p, _, _, fs := newTestProcessor(t)
	fs.users["dev-6"] = &model.User{DeviceUUID: "dev-6", OriginalTransactionID: "otx-6", IsVIP: true}
	// no binding recorded for otx-6/dev-6

	res, err := p.CheckLogin(context.Background(), "dev-6")
	require.NoError(t, err)
	require.Equal(t, "kicked", res.DeviceStatus)
	require.False(t, res.User.IsVIP)
}

func TestCheckLoginDowngradesExpiredVIP(t *testing.T) {
	p, _, _, fs := newTestProcessor(t)
	past := time.Now().Add(-time.Hour).UnixMilli()
	fs.users["dev-7"] = &model.User{DeviceUUID: "dev-7", IsVIP: true, VIPExpireMs: &past}

	res, err := p.CheckLogin(context.Background(), "dev-7")
	require.NoError(t, err)
	require.Empty(t, res.DeviceStatus)
	require.False(t, res.User.IsVIP)
}

func TestHandleServerNotificationIgnoresUnmappedType(t *testing.T) {
	p, key, leafDER, _ := newTestProcessor(t)
	envelope := sign(t, key, leafDER, map[string]any{
		"notificationType": "PRICE_INCREASE",
		"notificationUUID": "note-3",
		"data":             map[string]any{},
	})

	res, err := p.HandleServerNotification(context.Background(), envelope)
	require.NoError(t, err)
	require.False(t, res.IsVIP)
	require.False(t, res.Duplicate)
}

func TestHandleServerNotificationMarksOutOfOrderExpireAsStale(t *testing.T) {
	p, key, leafDER, fs := newTestProcessor(t)
	existingExpire := int64(2_000_000)
	fs.records["otx-stale"] = &model.PurchaseRecord{
		OriginalTransactionID: "otx-stale",
		Status:                model.StatusActive,
		ExpireDateMs:          &existingExpire,
	}

	signedTxn := sign(t, key, leafDER, map[string]any{
		"originalTransactionId": "otx-stale",
		"transactionId":         "txn-stale",
		"productId":             "monthly",
		"expiresDate":           float64(1_000_000),
	})
	envelope := sign(t, key, leafDER, map[string]any{
		"notificationType": "EXPIRED",
		"notificationUUID": "note-stale",
		"data": map[string]any{
			"signedTransactionInfo": signedTxn,
		},
	})

	res, err := p.HandleServerNotification(context.Background(), envelope)
	require.NoError(t, err)
	require.True(t, res.Stale)
	require.Equal(t, existingExpire, *res.VIPExpireTimeMs)

	unchanged, err := fs.GetPurchaseRecord(context.Background(), "otx-stale")
	require.NoError(t, err)
	require.Equal(t, existingExpire, *unchanged.ExpireDateMs)

	seen, err := fs.NotificationSeen(context.Background(), "note-stale")
	require.NoError(t, err)
	require.True(t, seen, "stale notification is still recorded for idempotency")
}
