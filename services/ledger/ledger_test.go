package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testContract = "0x89c39b0b3f2d2e9d02f1e2b93f5ccab71ab93a0f"

type rpcCall struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

func rpcServer(t *testing.T, handler func(call rpcCall) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call rpcCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}
		result, rpcErr := handler(call)
		resp := map[string]any{"jsonrpc": "2.0", "id": 1}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOwnerOf(t *testing.T) {
	owner := "0x99acbe5d487421cbd63bba3673132e634a6b4720"

	srv := rpcServer(t, func(call rpcCall) (any, *rpcError) {
		if call.Method != "eth_call" {
			t.Fatalf("method = %q, want eth_call", call.Method)
		}
		args, ok := call.Params[0].(map[string]any)
		if !ok {
			t.Fatalf("params[0] is %T, want object", call.Params[0])
		}
		if args["to"] != testContract {
			t.Fatalf("to = %v, want %v", args["to"], testContract)
		}
		data, _ := args["data"].(string)
		wantData := ownerOfSelector + "0000000000000000000000000000000000000000000000000000000000003039"
		if data != wantData {
			t.Fatalf("data = %q, want %q", data, wantData)
		}
		return "0x000000000000000000000000" + owner[2:], nil
	})
	defer srv.Close()

	client, err := NewEVMClient(srv.URL, testContract, time.Second)
	if err != nil {
		t.Fatalf("NewEVMClient() error = %v", err)
	}

	got, err := client.OwnerOf(context.Background(), big.NewInt(12345))
	if err != nil {
		t.Fatalf("OwnerOf() error = %v", err)
	}
	if got != owner {
		t.Fatalf("OwnerOf() = %q, want %q", got, owner)
	}
}

func TestOwnerOfRPCError(t *testing.T) {
	srv := rpcServer(t, func(call rpcCall) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "execution reverted"}
	})
	defer srv.Close()

	client, _ := NewEVMClient(srv.URL, testContract, time.Second)
	if _, err := client.OwnerOf(context.Background(), big.NewInt(7)); err == nil {
		t.Fatal("OwnerOf() succeeded on rpc error")
	}
}

func TestMintTime(t *testing.T) {
	srv := rpcServer(t, func(call rpcCall) (any, *rpcError) {
		switch call.Method {
		case "eth_getLogs":
			filter, _ := call.Params[0].(map[string]any)
			topics, _ := filter["topics"].([]any)
			if len(topics) != 4 {
				t.Fatalf("topics = %v, want 4 entries", topics)
			}
			if topics[0] != transferTopic || topics[1] != zeroTopic {
				t.Fatalf("unexpected topic filter %v", topics)
			}
			return []map[string]any{{"blockNumber": "0x10"}}, nil
		case "eth_getBlockByNumber":
			if call.Params[0] != "0x10" {
				t.Fatalf("block = %v, want 0x10", call.Params[0])
			}
			return map[string]any{"timestamp": "0x65a0f380"}, nil
		default:
			t.Fatalf("unexpected method %q", call.Method)
			return nil, nil
		}
	})
	defer srv.Close()

	client, _ := NewEVMClient(srv.URL, testContract, time.Second)

	got, err := client.MintTime(context.Background(), big.NewInt(1))
	if err != nil {
		t.Fatalf("MintTime() error = %v", err)
	}
	want := time.Unix(0x65a0f380, 0).UTC()
	if !got.Equal(want) {
		t.Fatalf("MintTime() = %v, want %v", got, want)
	}
}

func TestMintTimeNoEvent(t *testing.T) {
	srv := rpcServer(t, func(call rpcCall) (any, *rpcError) {
		return []map[string]any{}, nil
	})
	defer srv.Close()

	client, _ := NewEVMClient(srv.URL, testContract, time.Second)
	_, err := client.MintTime(context.Background(), big.NewInt(1))
	if !errors.Is(err, ErrNoMintEvent) {
		t.Fatalf("MintTime() error = %v, want ErrNoMintEvent", err)
	}
}

func TestNewEVMClientValidation(t *testing.T) {
	if _, err := NewEVMClient("", testContract, 0); err == nil {
		t.Fatal("accepted empty rpc url")
	}
	if _, err := NewEVMClient("http://localhost:8545", "bogus", 0); err == nil {
		t.Fatal("accepted malformed contract address")
	}
}
