// Package codec holds the CBOR configuration shared by everything that
// puts structured data on the wire.
package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): the same
// message always produces the same bytes.
var encMode cbor.EncMode

// decMode accepts standard CBOR and ignores unknown fields, so that a
// newer peer can add fields.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// A capture of a 4K screen in 32 pixel tiles has at most 8100
		// regions.
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose returns the CBOR diagnostic notation of data, for logging
// messages that failed to decode.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
