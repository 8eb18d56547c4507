package filestore

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/vango-go/vai-shop/pkg/ledger"
)

// Encoding selects the on-disk document format.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// EncodingFor picks CBOR for ".cbor" paths and JSON otherwise.
func EncodingFor(path string) Encoding {
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		return EncodingCBOR
	}
	return EncodingJSON
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	opts.TextMarshaler = cbor.TextMarshalerTextString
	cborEnc, err = opts.EncMode()
	if err != nil {
		panic("filestore: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("filestore: CBOR decoder initialization failed: " + err.Error())
	}
}

func encode(enc Encoding, snap ledger.Snapshot) ([]byte, error) {
	if enc == EncodingCBOR {
		return cborEnc.Marshal(snap)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func decode(enc Encoding, data []byte) (ledger.Snapshot, error) {
	var snap ledger.Snapshot
	var err error
	if enc == EncodingCBOR {
		err = cborDec.Unmarshal(data, &snap)
	} else {
		err = json.Unmarshal(data, &snap)
	}
	if err != nil {
		return ledger.Snapshot{}, err
	}
	if snap.Recipes == nil {
		snap.Recipes = map[string][]string{}
	}
	return snap, nil
}
