// oscore-demo runs a client and a server exchanging one or more OSCORE
// protected CoAP requests over real loopback UDP sockets, demonstrating the
// full Protect/Unprotect round trip from pkg/pipeline end to end.
//
// Usage:
//
//	oscore-demo [options]
//
// Options:
//
//	-requests   number of requests the client sends (default: 3)
//	-log-level  trace|debug|info|warn|error (default: info)
//
// Example:
//
//	oscore-demo -requests 5 -log-level debug
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/go-oscore/oscore/pkg/coap"
	"github.com/go-oscore/oscore/pkg/context"
	"github.com/go-oscore/oscore/pkg/cose"
	"github.com/go-oscore/oscore/pkg/pipeline"
)

func main() {
	requests := flag.Int("requests", 3, "number of requests the client sends")
	logLevel := flag.String("log-level", "info", "trace|debug|info|warn|error")
	flag.Parse()

	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = parseLogLevel(*logLevel)

	clientCtx, serverCtx, err := provisionContexts()
	if err != nil {
		log.Fatalf("provision contexts: %v", err)
	}

	store := context.NewMemoryStore()
	store.Add(serverCtx)

	clientPipeline := pipeline.New(pipeline.Config{LoggerFactory: factory})
	serverPipeline := pipeline.New(pipeline.Config{Store: store, LoggerFactory: factory})

	clientConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("client conn: %v", err)
	}
	serverConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("server conn: %v", err)
	}
	serverAddr := serverConn.LocalAddr()

	serverDone := make(chan struct{})
	go runServer(serverPipeline, serverConn, serverDone)

	for i := 0; i < *requests; i++ {
		if err := runRequest(clientPipeline, clientConn, serverAddr, clientCtx, byte(i+1)); err != nil {
			log.Fatalf("request %d: %v", i+1, err)
		}
	}

	serverConn.Close()
	<-serverDone
}

// provisionContexts derives a matched client/server OSCORE security context
// pair from a fixed demo master secret, the way an out-of-band provisioning
// step (e.g. an EDHOC or DTLS handshake) would in a real deployment.
func provisionContexts() (client, server *context.Context, err error) {
	masterSecret := []byte("oscore-demo-master-secret-32byt")
	masterSalt := []byte("oscore-demo-salt")
	clientID := []byte{0x00}
	serverID := []byte{0x01}

	senderKey, recipientKey, commonIV, err := context.DeriveFromMasterSecret(masterSecret, masterSalt, clientID, serverID)
	if err != nil {
		return nil, nil, fmt.Errorf("derive key material: %w", err)
	}

	client, err = context.New(context.Config{
		AlgorithmID:  cose.AESCCM16_64_128,
		CommonIV:     commonIV,
		SenderID:     clientID,
		SenderKey:    senderKey,
		RecipientID:  serverID,
		RecipientKey: recipientKey,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("client context: %w", err)
	}

	server, err = context.New(context.Config{
		AlgorithmID:  cose.AESCCM16_64_128,
		CommonIV:     commonIV,
		SenderID:     serverID,
		SenderKey:    recipientKey,
		RecipientID:  clientID,
		RecipientKey: senderKey,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("server context: %w", err)
	}
	return client, server, nil
}

// runRequest protects one GET request, sends it to serverAddr, and waits
// for the protected response.
func runRequest(p *pipeline.Pipeline, conn net.PacketConn, serverAddr net.Addr, ctx *context.Context, token byte) error {
	outer := &coap.Message{Token: []byte{token}}
	inner := &coap.Message{Code: coap.CodeGET}
	inner.SetOption(coap.OptionUriPath, []byte("temperature"))

	if _, err := p.Protect(outer, inner, ctx, true); err != nil {
		return fmt.Errorf("protect request: %w", err)
	}
	if err := writeDatagramTo(conn, outer, serverAddr); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	responseOuter, err := readDatagram(conn)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	responseInner, _, err := p.Unprotect(responseOuter, false)
	if err != nil {
		return fmt.Errorf("unprotect response: %w", err)
	}
	log.Printf("request token=%#x -> response %q", token, responseInner.Payload)
	return nil
}

// runServer accepts requests until conn is closed, answering each with a
// canned reading. It exits once conn's read fails (the demo closes conn
// from the client side when it's done).
func runServer(p *pipeline.Pipeline, conn net.PacketConn, done chan<- struct{}) {
	defer close(done)
	for {
		requestOuter, addr, err := readDatagramFrom(conn)
		if err != nil {
			return
		}

		requestInner, ctx, err := p.Unprotect(requestOuter, true)
		if err != nil {
			log.Printf("server: unprotect request: %v", err)
			continue
		}
		path, _ := requestInner.GetOption(coap.OptionUriPath)
		log.Printf("server: %v %s", requestInner.Code, path)

		responseOuter := &coap.Message{Token: requestOuter.Token}
		responseInner := &coap.Message{
			Code:    coap.Code204,
			Payload: []byte(fmt.Sprintf("21.%dC", time.Now().Nanosecond()%10)),
		}

		if _, err := p.Protect(responseOuter, responseInner, ctx, false); err != nil {
			log.Printf("server: protect response: %v", err)
			continue
		}
		if err := writeDatagramTo(conn, responseOuter, addr); err != nil {
			log.Printf("server: send response: %v", err)
		}
	}
}

// writeDatagramTo/readDatagram frame a coap.Message for the wire using
// coap.Codec plus a length-prefixed token, since the token lives in CoAP's
// fixed header (outside what coap.Codec serializes) and a raw UDP socket
// has no such header of its own.
var codec = coap.Codec{}

func writeDatagramTo(conn net.PacketConn, msg *coap.Message, addr net.Addr) error {
	buf, err := frame(msg)
	if err != nil {
		return err
	}
	_, err = conn.WriteTo(buf, addr)
	return err
}

func readDatagram(conn net.PacketConn) (*coap.Message, error) {
	msg, _, err := readDatagramFrom(conn)
	return msg, err
}

func readDatagramFrom(conn net.PacketConn) (*coap.Message, net.Addr, error) {
	buf := make([]byte, 2048)
	n, addr, err := conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, err
	}
	msg, err := unframe(buf[:n])
	return msg, addr, err
}

func frame(msg *coap.Message) ([]byte, error) {
	body, err := codec.Serialize(msg, coap.RoleCoAP)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 2+len(msg.Token)+len(body))
	out = append(out, byte(len(msg.Token)))
	out = append(out, msg.Token...)
	out = append(out, body...)
	return out, nil
}

func unframe(data []byte) (*coap.Message, error) {
	if len(data) < 1 {
		return nil, coap.ErrTooShort
	}
	tokenLen := int(data[0])
	if len(data) < 1+tokenLen {
		return nil, coap.ErrTooShort
	}
	token := append([]byte(nil), data[1:1+tokenLen]...)
	msg, err := codec.Parse(data[1+tokenLen:], coap.RoleCoAP)
	if err != nil {
		return nil, err
	}
	msg.Token = token
	return msg, nil
}

func parseLogLevel(s string) logging.LogLevel {
	switch s {
	case "trace":
		return logging.LogLevelTrace
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}
