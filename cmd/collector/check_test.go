package main

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execCheck(t *testing.T, args ...string) error {
	t.Helper()
	checkCmd.SetArgs(args)
	defer checkCmd.SetArgs(nil)
	return checkCmd.Execute()
}

func TestCheckTCPReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	err = execCheck(t, ln.Addr().String())
	assert.NoError(t, err)
}

func TestCheckTCPUnreachable(t *testing.T) {
	err := execCheck(t, "--timeout", "200ms", "127.0.0.1:1")
	assert.Error(t, err)
}

func TestCheckHTTPReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := execCheck(t, "--http", server.URL)
	assert.NoError(t, err)
}
