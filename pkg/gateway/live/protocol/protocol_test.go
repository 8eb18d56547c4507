package protocol

import (
	"testing"
)

func TestDecodeClientMessage_Hello(t *testing.T) {
	raw := []byte(`{"type":"hello","protocol_version":"1","client":{"name":"kiosk","version":"0.3.0"}}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	hello, ok := msg.(ClientHello)
	if !ok {
		t.Fatalf("decoded type = %T, want ClientHello", msg)
	}
	if hello.Client.Name != "kiosk" {
		t.Fatalf("client=%+v", hello.Client)
	}
}

func TestDecodeClientMessage_HelloVersion(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"hello"}`))
	decErr, ok := err.(*DecodeError)
	if !ok || decErr.Code != "bad_request" || decErr.Param != "protocol_version" {
		t.Fatalf("err=%#v, want bad_request on protocol_version", err)
	}

	_, err = DecodeClientMessage([]byte(`{"type":"hello","protocol_version":"2"}`))
	decErr, ok = err.(*DecodeError)
	if !ok || decErr.Code != "unsupported" {
		t.Fatalf("err=%#v, want unsupported", err)
	}
}

func TestDecodeClientMessage_ToolCall(t *testing.T) {
	raw := []byte(`{"type":"tool_call","id":" c1 ","name":"add_to_cart","input":{"item_name":"milk","quantity":2}}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	call, ok := msg.(ToolCall)
	if !ok {
		t.Fatalf("decoded type = %T, want ToolCall", msg)
	}
	if call.ID != "c1" || call.Name != "add_to_cart" {
		t.Fatalf("call=%+v", call)
	}
	args, err := call.Arguments()
	if err != nil {
		t.Fatalf("Arguments: %v", err)
	}
	if args["item_name"] != "milk" || args["quantity"] != float64(2) {
		t.Fatalf("args=%v", args)
	}
}

func TestToolCallArguments_MissingAndInvalid(t *testing.T) {
	args, err := ToolCall{}.Arguments()
	if err != nil || len(args) != 0 {
		t.Fatalf("missing input: args=%v err=%v", args, err)
	}
	args, err = ToolCall{Input: []byte("null")}.Arguments()
	if err != nil || len(args) != 0 {
		t.Fatalf("null input: args=%v err=%v", args, err)
	}
	if _, err := (ToolCall{Input: []byte(`[1,2]`)}).Arguments(); err == nil {
		t.Fatalf("expected error for array input")
	}
}

func TestDecodeClientMessage_ToolCallRequiredFields(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		param string
	}{
		{name: "missing id", raw: `{"type":"tool_call","name":"view_cart"}`, param: "id"},
		{name: "missing name", raw: `{"type":"tool_call","id":"c1"}`, param: "name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tc.raw))
			decErr, ok := err.(*DecodeError)
			if !ok {
				t.Fatalf("err type = %T", err)
			}
			if decErr.Param != tc.param {
				t.Fatalf("param=%q, want %q", decErr.Param, tc.param)
			}
		})
	}
}

func TestDecodeClientMessage_Malformed(t *testing.T) {
	for _, raw := range []string{`not json`, `{}`, `{"type":"audio_frame"}`} {
		_, err := DecodeClientMessage([]byte(raw))
		decErr, ok := err.(*DecodeError)
		if !ok || decErr.Code != "bad_request" {
			t.Fatalf("raw=%s err=%#v, want bad_request", raw, err)
		}
	}
}

func TestDecodeClientMessage_UnsupportedControlOp(t *testing.T) {
	raw := []byte(`{"type":"control","op":"reboot"}`)
	_, err := DecodeClientMessage(raw)
	if err == nil {
		t.Fatalf("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Code != "unsupported" {
		t.Fatalf("code=%q", decErr.Code)
	}
}
