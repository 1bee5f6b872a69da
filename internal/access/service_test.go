package access

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/streetartmap/accessd/internal/database"
	"github.com/streetartmap/accessd/internal/model"
	"github.com/streetartmap/accessd/internal/store"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []sentEmail
	fail bool
}

type sentEmail struct {
	to, subject, html, text string
}

func (f *fakeSender) Send(toEmail, subject, htmlBody, textBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("smtp down")
	}
	f.sent = append(f.sent, sentEmail{toEmail, subject, htmlBody, textBody})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) last() sentEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

// waitForEmails polls until the sender has at least n emails. Confirmation
// mail goes out on a goroutine, so tests cannot assert synchronously.
func (f *fakeSender) waitForEmails(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d emails, have %d", n, f.count())
}

func newTestService(t *testing.T, fallbackRegion string) (*Service, *fakeSender, *store.EntitlementStore, *store.MagicLinkStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	es := store.NewEntitlementStore(db, 30*24*time.Hour)
	ls := store.NewMagicLinkStore(db, 30*time.Minute)
	sender := &fakeSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(es, ls, sender, "https://map.test", fallbackRegion, logger)
	return svc, sender, es, ls
}

func validEvent() PurchaseEvent {
	return PurchaseEvent{
		Email:            "Alice@Example.com",
		Region:           "Oost",
		AmountCents:      500,
		Currency:         "eur",
		PaymentSessionID: "cs_test_1",
	}
}

func TestIngestPurchase(t *testing.T) {
	svc, sender, _, _ := newTestService(t, "")

	ent, applied, err := svc.IngestPurchase(validEvent())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !applied {
		t.Error("expected event to be applied")
	}
	if ent.Email != "alice@example.com" {
		t.Errorf("email = %q, want normalized alice@example.com", ent.Email)
	}
	if len(ent.Regions) != 1 || ent.Regions[0] != "east" {
		t.Errorf("regions = %v, want [east]", ent.Regions)
	}

	sender.waitForEmails(t, 1)
	mail := sender.last()
	if mail.to != "alice@example.com" {
		t.Errorf("confirmation sent to %q", mail.to)
	}
	if !strings.Contains(mail.text, "Oost") {
		t.Errorf("confirmation should name the region, got %q", mail.text)
	}
}

func TestIngestPurchaseMalformed(t *testing.T) {
	svc, _, _, _ := newTestService(t, "")

	events := []PurchaseEvent{
		{},
		{Email: "a@x.com", Region: "east"},
		{Email: "a@x.com", PaymentSessionID: "cs_1"},
		{Region: "east", PaymentSessionID: "cs_1"},
		{Email: "not an email", Region: "east", PaymentSessionID: "cs_1"},
	}
	for i, ev := range events {
		if _, _, err := svc.IngestPurchase(ev); !errors.Is(err, model.ErrMalformedEvent) {
			t.Errorf("event %d: error = %v, want ErrMalformedEvent", i, err)
		}
	}
}

func TestIngestPurchaseUnknownRegionRejected(t *testing.T) {
	svc, _, es, _ := newTestService(t, "")

	ev := validEvent()
	ev.Region = "rotterdam"
	_, _, err := svc.IngestPurchase(ev)
	if !errors.Is(err, model.ErrUnknownRegion) {
		t.Fatalf("error = %v, want ErrUnknownRegion", err)
	}

	ent, _ := es.Get("alice@example.com")
	if ent != nil {
		t.Error("rejected event must not create an entitlement")
	}
}

func TestIngestPurchaseUnknownRegionFallback(t *testing.T) {
	svc, _, _, _ := newTestService(t, "centre")

	ev := validEvent()
	ev.Region = "rotterdam"
	ent, applied, err := svc.IngestPurchase(ev)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !applied {
		t.Error("expected event to be applied")
	}
	if len(ent.Regions) != 1 || ent.Regions[0] != "centre" {
		t.Errorf("regions = %v, want fallback [centre]", ent.Regions)
	}
}

func TestIngestPurchaseReplay(t *testing.T) {
	svc, _, _, _ := newTestService(t, "")

	if _, _, err := svc.IngestPurchase(validEvent()); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	ent, applied, err := svc.IngestPurchase(validEvent())
	if err != nil {
		t.Fatalf("replay ingest: %v", err)
	}
	if applied {
		t.Error("replay must not be applied")
	}
	if ent.TotalPaidCents != 500 {
		t.Errorf("replay changed spend to %d", ent.TotalPaidCents)
	}
}

func TestRequestLinkNoEntitlement(t *testing.T) {
	svc, _, _, _ := newTestService(t, "")

	err := svc.RequestLink("nobody@x.com")
	if !errors.Is(err, model.ErrNoEntitlement) {
		t.Errorf("error = %v, want ErrNoEntitlement", err)
	}
}

func TestRequestLinkInvalidEmail(t *testing.T) {
	svc, _, _, _ := newTestService(t, "")

	err := svc.RequestLink("not an email")
	if !errors.Is(err, model.ErrInvalidEmail) {
		t.Errorf("error = %v, want ErrInvalidEmail", err)
	}
}

func TestRequestLinkExpiredEntitlement(t *testing.T) {
	svc, _, es, _ := newTestService(t, "")

	svc.IngestPurchase(validEvent())
	if err := es.SetExpiry("alice@example.com", time.Now().UTC().Add(-time.Hour)); err != nil {
		t.Fatalf("set expiry: %v", err)
	}

	err := svc.RequestLink("alice@example.com")
	if !errors.Is(err, model.ErrEntitlementExpired) {
		t.Errorf("error = %v, want ErrEntitlementExpired", err)
	}
}

func TestRequestLinkSendsToken(t *testing.T) {
	svc, sender, _, ls := newTestService(t, "")

	svc.IngestPurchase(validEvent())
	sender.waitForEmails(t, 1)

	if err := svc.RequestLink("alice@example.com"); err != nil {
		t.Fatalf("request link: %v", err)
	}
	sender.waitForEmails(t, 2)

	mail := sender.last()
	idx := strings.Index(mail.text, "token=")
	if idx < 0 {
		t.Fatalf("link email carries no token: %q", mail.text)
	}
	token := strings.Fields(mail.text[idx+len("token="):])[0]

	ml, err := ls.GetByToken(token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if ml == nil || ml.Email != "alice@example.com" {
		t.Errorf("emailed token not found in store: %+v", ml)
	}
}

func TestRequestLinkSupersedesPrevious(t *testing.T) {
	svc, _, _, ls := newTestService(t, "")

	svc.IngestPurchase(validEvent())

	first, err := ls.Create("alice@example.com")
	if err != nil {
		t.Fatalf("create first link: %v", err)
	}
	if err := svc.RequestLink("alice@example.com"); err != nil {
		t.Fatalf("request link: %v", err)
	}

	if _, err := svc.Redeem(first.Token); !errors.Is(err, model.ErrTokenAlreadyUsed) {
		t.Errorf("superseded token error = %v, want ErrTokenAlreadyUsed", err)
	}
}

func TestRedeem(t *testing.T) {
	svc, _, _, ls := newTestService(t, "")

	svc.IngestPurchase(validEvent())
	ml, err := ls.Create("alice@example.com")
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	g, err := svc.Redeem(ml.Token)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if g.Email != "alice@example.com" {
		t.Errorf("grant email = %q", g.Email)
	}
	if len(g.Regions) != 1 || g.Regions[0] != "east" {
		t.Errorf("grant regions = %v, want [east]", g.Regions)
	}

	if _, err := svc.Redeem(ml.Token); !errors.Is(err, model.ErrTokenAlreadyUsed) {
		t.Errorf("second redeem error = %v, want ErrTokenAlreadyUsed", err)
	}
}

func TestRedeemEmptyToken(t *testing.T) {
	svc, _, _, _ := newTestService(t, "")

	if _, err := svc.Redeem(""); !errors.Is(err, model.ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestRedeemEntitlementLapsedAfterIssue(t *testing.T) {
	svc, _, es, ls := newTestService(t, "")

	svc.IngestPurchase(validEvent())
	ml, err := ls.Create("alice@example.com")
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	if err := es.SetExpiry("alice@example.com", time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("set expiry: %v", err)
	}

	if _, err := svc.Redeem(ml.Token); !errors.Is(err, model.ErrEntitlementExpired) {
		t.Fatalf("error = %v, want ErrEntitlementExpired", err)
	}

	// The token was consumed by the attempt; a retry does not revive it.
	if _, err := svc.Redeem(ml.Token); !errors.Is(err, model.ErrTokenAlreadyUsed) {
		t.Errorf("retry error = %v, want ErrTokenAlreadyUsed", err)
	}
}

func TestIngestPurchaseConfirmationFailureIsNotFatal(t *testing.T) {
	svc, sender, _, _ := newTestService(t, "")
	sender.fail = true

	_, applied, err := svc.IngestPurchase(validEvent())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !applied {
		t.Error("purchase must apply even when confirmation mail fails")
	}
}
