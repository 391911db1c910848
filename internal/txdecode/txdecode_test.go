package txdecode

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

func buildSimpleTx(t *testing.T) []byte {
	t.Helper()
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xFFFFFFFF},
		Sequence:         0xFFFFFFFD, // RBF-signaling
	})

	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
		AddData(make([]byte, 20)).
		AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		t.Fatal(err)
	}
	tx.AddTxOut(wire.NewTxOut(50000, pkScript))

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestParseRoundTrip(t *testing.T) {
	raw := buildSimpleTx(t)
	parsed, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed.Txid) != 64 {
		t.Fatalf("expected 64-char txid, got %q", parsed.Txid)
	}
	if len(parsed.Inputs) != 1 || len(parsed.Outputs) != 1 {
		t.Fatalf("got %d inputs, %d outputs", len(parsed.Inputs), len(parsed.Outputs))
	}
	if !parsed.HasRBFSignal() {
		t.Fatal("expected RBF signal detected")
	}
	if parsed.Inputs[0].PrevTxid != coinbasePrevTxid {
		t.Fatal("expected coinbase-shaped prevout for this synthetic tx")
	}
	if parsed.Outputs[0].ValueSats != 50000 {
		t.Fatalf("got %d", parsed.Outputs[0].ValueSats)
	}
}

func TestOutputAddressesDecodesP2PKH(t *testing.T) {
	raw := buildSimpleTx(t)
	parsed, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	addrs := OutputAddresses(parsed)
	if len(addrs) != 1 || addrs[0] == "" {
		t.Fatalf("expected a decoded address, got %+v", addrs)
	}
}

func TestScriptToAddressEmptyForEmptyScript(t *testing.T) {
	if addr := scriptToAddress(nil); addr != "" {
		t.Fatalf("expected empty address, got %q", addr)
	}
}
