package pipeline

import (
	"bytes"
	"testing"

	"github.com/go-oscore/oscore/pkg/coap"
	"github.com/go-oscore/oscore/pkg/context"
	"github.com/go-oscore/oscore/pkg/cose"
	"github.com/go-oscore/oscore/pkg/exchangetable"
)

// pairedContexts builds the client and server sides of one OSCORE security
// context, per spec.md Section 8's end-to-end scenario setup: sender id
// 0x00 (client), recipient id 0x01 (server), AES-CCM-16-64-128.
func pairedContexts(t *testing.T) (client, server *context.Context) {
	t.Helper()
	commonIV := bytes.Repeat([]byte{0x11}, 13)
	clientSenderKey := bytes.Repeat([]byte{0x22}, 16)
	serverSenderKey := bytes.Repeat([]byte{0x33}, 16)

	client, err := context.New(context.Config{
		AlgorithmID:  cose.AESCCM16_64_128,
		CommonIV:     commonIV,
		SenderID:     []byte{0x00},
		SenderKey:    clientSenderKey,
		RecipientID:  []byte{0x01},
		RecipientKey: serverSenderKey,
	})
	if err != nil {
		t.Fatalf("client context: %v", err)
	}

	server, err = context.New(context.Config{
		AlgorithmID:  cose.AESCCM16_64_128,
		CommonIV:     commonIV,
		SenderID:     []byte{0x01},
		SenderKey:    serverSenderKey,
		RecipientID:  []byte{0x00},
		RecipientKey: clientSenderKey,
	})
	if err != nil {
		t.Fatalf("server context: %v", err)
	}
	return client, server
}

func advanceSeqTo(t *testing.T, ctx *context.Context, target uint64) {
	t.Helper()
	for ctx.Sender.Seq() < target {
		if _, err := ctx.Sender.NextSeq(); err != nil {
			t.Fatalf("NextSeq: %v", err)
		}
	}
}

func TestScenario1ProtectMinimalGET(t *testing.T) {
	client, _ := pairedContexts(t)
	advanceSeqTo(t, client, 5)

	p := New(Config{})
	outer := &coap.Message{Token: []byte{0xA1}}
	inner := &coap.Message{Code: coap.CodeGET}

	n, err := p.Protect(outer, inner, client, true)
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if outer.Code != coap.CodePOST {
		t.Fatalf("outer code = %v, want POST", outer.Code)
	}
	opt, ok := outer.GetOption(coap.OptionOSCORE)
	if !ok {
		t.Fatal("expected OSCORE option set")
	}
	want := []byte{0x09, 0x05, 0x00}
	if !bytes.Equal(opt, want) {
		t.Fatalf("OSCORE option = % x, want % x", opt, want)
	}
	if len(outer.Payload) != 1+8 {
		t.Fatalf("ciphertext length = %d, want %d", len(outer.Payload), 9)
	}
	if n == 0 {
		t.Fatal("expected non-zero serialized length")
	}
}

func TestScenario2UnprotectAtPeer(t *testing.T) {
	client, server := pairedContexts(t)
	advanceSeqTo(t, client, 5)

	clientPipeline := New(Config{})
	outer := &coap.Message{Token: []byte{0xA1}}
	inner := &coap.Message{Code: coap.CodeGET}
	if _, err := clientPipeline.Protect(outer, inner, client, true); err != nil {
		t.Fatalf("Protect: %v", err)
	}

	store := context.NewMemoryStore()
	store.Add(server)
	serverPipeline := New(Config{Store: store})

	recovered, ctx, err := serverPipeline.Unprotect(outer, true)
	if err != nil {
		t.Fatalf("Unprotect: %v", err)
	}
	if recovered.Code != coap.CodeGET {
		t.Fatalf("recovered code = %v, want GET", recovered.Code)
	}
	if !bytes.Equal(recovered.Token, []byte{0xA1}) {
		t.Fatalf("recovered token = % x, want A1", recovered.Token)
	}
	if ctx != server {
		t.Fatal("expected resolved context to be the server context")
	}
	if server.Recipient.Window.RecentSeq() != 5 {
		t.Fatalf("RecentSeq = %d, want 5", server.Recipient.Window.RecentSeq())
	}
	if server.Recipient.Window.Bitmap()&1 == 0 {
		t.Fatalf("bit 0 should be set after accepting seq 5, bitmap=%#x", server.Recipient.Window.Bitmap())
	}
}

func TestScenario3ReplayRejected(t *testing.T) {
	client, server := pairedContexts(t)
	advanceSeqTo(t, client, 5)

	outer := &coap.Message{Token: []byte{0xA1}}
	inner := &coap.Message{Code: coap.CodeGET}
	clientPipeline := New(Config{})
	if _, err := clientPipeline.Protect(outer, inner, client, true); err != nil {
		t.Fatal(err)
	}

	store := context.NewMemoryStore()
	store.Add(server)
	serverPipeline := New(Config{Store: store})

	if _, _, err := serverPipeline.Unprotect(outer, true); err != nil {
		t.Fatalf("first delivery should succeed: %v", err)
	}

	_, _, err := serverPipeline.Unprotect(outer, true)
	if err == nil {
		t.Fatal("expected replay to be rejected")
	}
	pErr, ok := err.(*Error)
	if !ok || pErr.Kind != KindReplay {
		t.Fatalf("expected KindReplay, got %v", err)
	}
	if status, ok := pErr.Kind.Status(); !ok || status != coap.Code401 {
		t.Fatalf("expected status 4.01, got %v ok=%v", status, ok)
	}
}

func TestScenario4OutOfOrderWithinWindow(t *testing.T) {
	client, server := pairedContexts(t)
	store := context.NewMemoryStore()
	store.Add(server)
	serverPipeline := New(Config{Store: store})
	clientPipeline := New(Config{})

	send := func(seq uint64, token byte) *coap.Message {
		advanceSeqTo(t, client, seq)
		outer := &coap.Message{Token: []byte{token}}
		inner := &coap.Message{Code: coap.CodeGET}
		if _, err := clientPipeline.Protect(outer, inner, client, true); err != nil {
			t.Fatalf("Protect seq %d: %v", seq, err)
		}
		return outer
	}

	// The client's sender sequence number is strictly monotonic, so the
	// seq-3 message must be produced before the seq-5 one even though the
	// network delivers it to the server afterward.
	outer3 := send(3, 0x02)
	outer5 := send(5, 0x01)

	if _, _, err := serverPipeline.Unprotect(outer5, true); err != nil {
		t.Fatalf("seq 5 should be accepted: %v", err)
	}

	if _, _, err := serverPipeline.Unprotect(outer3, true); err != nil {
		t.Fatalf("out-of-order seq 3 should be accepted: %v", err)
	}
	if server.Recipient.Window.Bitmap()&(1<<2) == 0 {
		t.Fatalf("bit 2 (seq 3) should be set, bitmap=%#x", server.Recipient.Window.Bitmap())
	}

	if _, _, err := serverPipeline.Unprotect(outer3, true); err == nil {
		t.Fatal("replay of seq 3 should be rejected")
	}
}

func TestScenario5ResponseWithoutPartialIV(t *testing.T) {
	client, server := pairedContexts(t)
	advanceSeqTo(t, client, 5)

	token := []byte{0xA1}
	exchanges := exchangetable.New(0)
	clientPipeline := New(Config{Exchanges: exchanges})

	requestOuter := &coap.Message{Token: token}
	requestInner := &coap.Message{Code: coap.CodeGET}
	if _, err := clientPipeline.Protect(requestOuter, requestInner, client, true); err != nil {
		t.Fatal(err)
	}
	if exchanges.Len() != 1 {
		t.Fatalf("expected 1 outstanding exchange, got %d", exchanges.Len())
	}

	store := context.NewMemoryStore()
	store.Add(server)
	serverPipeline := New(Config{Store: store})
	_, _, err := serverPipeline.Unprotect(requestOuter, true)
	if err != nil {
		t.Fatalf("server unprotect request: %v", err)
	}

	responseOuter := &coap.Message{Token: token}
	responseInner := &coap.Message{Code: coap.Code204, Payload: []byte("temp=21C")}
	if _, err := serverPipeline.Protect(responseOuter, responseInner, server, false); err != nil {
		t.Fatalf("server protect response: %v", err)
	}
	if responseOuter.Code != coap.Code204 {
		t.Fatalf("response code = %v, want 2.04", responseOuter.Code)
	}
	opt, ok := responseOuter.GetOption(coap.OptionOSCORE)
	if !ok {
		t.Fatal("expected OSCORE option present (even if empty)")
	}
	if len(opt) != 0 {
		t.Fatalf("expected empty OSCORE option on response, got % x", opt)
	}

	recovered, _, err := clientPipeline.Unprotect(responseOuter, false)
	if err != nil {
		t.Fatalf("client unprotect response: %v", err)
	}
	if !bytes.Equal(recovered.Payload, []byte("temp=21C")) {
		t.Fatalf("recovered payload = %q, want %q", recovered.Payload, "temp=21C")
	}
	if exchanges.Len() != 0 {
		t.Fatalf("expected exchange entry removed, got %d outstanding", exchanges.Len())
	}
}

func TestScenario6AEADTamperRollsBackWindow(t *testing.T) {
	client, server := pairedContexts(t)
	advanceSeqTo(t, client, 5)

	outer := &coap.Message{Token: []byte{0xA1}}
	inner := &coap.Message{Code: coap.CodeGET}
	clientPipeline := New(Config{})
	if _, err := clientPipeline.Protect(outer, inner, client, true); err != nil {
		t.Fatal(err)
	}
	outer.Payload[0] ^= 0xFF // flip one bit of the ciphertext

	store := context.NewMemoryStore()
	store.Add(server)
	serverPipeline := New(Config{Store: store})

	preRecent := server.Recipient.Window.RecentSeq()
	preBitmap := server.Recipient.Window.Bitmap()

	_, _, err := serverPipeline.Unprotect(outer, true)
	if err == nil {
		t.Fatal("expected decryption failure")
	}
	pErr, ok := err.(*Error)
	if !ok || pErr.Kind != KindDecryptionFailure {
		t.Fatalf("expected KindDecryptionFailure, got %v", err)
	}
	if status, ok := pErr.Kind.Status(); !ok || status != coap.Code400 {
		t.Fatalf("expected status 4.00, got %v ok=%v", status, ok)
	}
	if server.Recipient.Window.RecentSeq() != preRecent || server.Recipient.Window.Bitmap() != preBitmap {
		t.Fatal("sliding window should be rolled back to its pre-validate snapshot")
	}
}

func TestUnprotectRejectsBadOption(t *testing.T) {
	p := New(Config{})
	outer := &coap.Message{}
	outer.SetOption(coap.OptionOSCORE, []byte{0xE0}) // reserved top bits
	_, _, err := p.Unprotect(outer, true)
	pErr, ok := err.(*Error)
	if !ok || pErr.Kind != KindBadOption {
		t.Fatalf("expected KindBadOption, got %v", err)
	}
}

func TestUnprotectRequestMissingContext(t *testing.T) {
	client, _ := pairedContexts(t)
	advanceSeqTo(t, client, 1)

	outer := &coap.Message{Token: []byte{0x01}}
	inner := &coap.Message{Code: coap.CodeGET}
	p := New(Config{})
	if _, err := p.Protect(outer, inner, client, true); err != nil {
		t.Fatal(err)
	}

	serverPipeline := New(Config{Store: context.NewMemoryStore()})
	_, _, err := serverPipeline.Unprotect(outer, true)
	pErr, ok := err.(*Error)
	if !ok || pErr.Kind != KindMissingContext {
		t.Fatalf("expected KindMissingContext, got %v", err)
	}
}

func TestUnprotectResponseMissingExchange(t *testing.T) {
	p := New(Config{})
	outer := &coap.Message{Token: []byte{0xFF}}
	_, _, err := p.Unprotect(outer, false)
	pErr, ok := err.(*Error)
	if !ok || pErr.Kind != KindExchangeMissing {
		t.Fatalf("expected KindExchangeMissing, got %v", err)
	}
}
