package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"covertext/internal/conversation"
)

func TestReportProcess(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, reportProcess(&out, "msg-1", nil))
	require.Equal(t, "processed msg-1\n", out.String())

	out.Reset()
	err := &conversation.Error{Code: conversation.ErrorNotFound, Reason: "inbound_message_not_found"}
	require.ErrorIs(t, reportProcess(&out, "msg-2", err), err)
	require.Equal(t, "failed msg-2: NOT_FOUND (inbound_message_not_found) retryable=false\n", out.String())

	out.Reset()
	plain := errors.New("boom")
	require.ErrorIs(t, reportProcess(&out, "msg-3", plain), plain)
	require.Empty(t, out.String())
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["process"])
	require.True(t, names["register-agency"])

	require.Error(t, processCmd.Args(processCmd, nil))
	require.NoError(t, processCmd.Args(processCmd, []string{"msg-1"}))
}
