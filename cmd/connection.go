// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/discofloor/floorctl/pkg/multidrop"
	"github.com/gorilla/websocket"
	"golang.org/x/term"
)

// wsConn adapts a gorilla websocket connection to the gateway message
// pipe the remote link runs over. Only binary messages carry envelopes;
// anything else is skipped.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (w *wsConn) WriteMessage(data []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

// openGatewayLink dials a floor gateway over WebSocket with HTTP Basic
// auth and wraps it as a bus link.
func openGatewayLink(wsURL, username, password string, skipSSLVerify bool) (multidrop.Link, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("gateway connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("gateway connection failed: %v", err)
	}

	return multidrop.NewRemoteLink(&wsConn{conn: conn}), nil
}

// getPassword retrieves the gateway password from the environment or
// prompts for it.
func getPassword() (string, error) {
	if pw := os.Getenv("FLOOR_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// openLink opens the bus link selected by the connection flags: an
// in-memory simulated chain, a local serial device, or a gateway.
func openLink() (multidrop.Link, string, error) {
	if simNodes > 0 {
		return multidrop.NewSimChain(simNodes), fmt.Sprintf("Simulator: %d cells", simNodes), nil
	}

	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = getPassword()
			if err != nil {
				return nil, "", err
			}
		}

		link, err := openGatewayLink(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}

		return link, fmt.Sprintf("Gateway: %s", wsURL), nil
	}

	if portName != "" {
		link, err := multidrop.OpenSerial(portName, baudRate)
		if err != nil {
			return nil, "", err
		}

		return link, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("one of --port, --url or --sim must be specified")
}
