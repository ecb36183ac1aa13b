// Package script implements the pure output-script classifier described
// in spec.md §4.2. It never fails: a truncated or unrecognised script
// collapses to OutputNonStd rather than returning an error to the
// caller, matching original_source/lincoln/utils.py's parse_output_sript.
package script

import (
	"crypto/sha256"

	"github.com/CodeKiet/lincoln/internal/domain"
	"golang.org/x/crypto/ripemd160"
)

const (
	opDup         = 0x76
	opEqual       = 0x87
	opEqualVerify = 0x88
	opHash160     = 0xa9
	opCheckSig    = 0xac
	opPushData1   = 0x4c
	opPushData2   = 0x4d
	opPushData4   = 0x4e
)

// element is one opcode or one push-data item of a parsed script, in the
// same spirit as python-bitcoinlib's CScript iteration that
// parse_output_sript relies on.
type element struct {
	op   byte
	data []byte
	push bool
}

// Classify maps a raw scriptPubKey to (addressPayload, type). It is a
// pure function and never panics or returns an error: anything it can't
// parse or doesn't recognise becomes (nil, OutputNonStd).
func Classify(scriptPubKey []byte) ([]byte, domain.OutputType) {
	elems, ok := parse(scriptPubKey)
	if !ok {
		return nil, domain.OutputNonStd
	}

	switch {
	case len(elems) == 5 &&
		elems[0].op == opDup && !elems[0].push &&
		elems[1].op == opHash160 && !elems[1].push &&
		elems[2].push &&
		elems[3].op == opEqualVerify && !elems[3].push &&
		elems[4].op == opCheckSig && !elems[4].push:
		return elems[2].data, domain.OutputP2PKH

	case len(elems) == 3 &&
		elems[0].op == opHash160 && !elems[0].push &&
		elems[1].push &&
		elems[2].op == opEqual && !elems[2].push:
		return elems[1].data, domain.OutputP2SH

	case len(elems) == 2 &&
		elems[0].push &&
		elems[1].op == opCheckSig && !elems[1].push:
		return hash160(elems[0].data), domain.OutputP2PK
	}

	return nil, domain.OutputNonStd
}

// parse walks a raw script into opcode/push-data elements. ok is false
// when a push-data length runs past the end of the script (a truncated
// push), the only failure mode spec.md §4.2 names explicitly.
func parse(script []byte) ([]element, bool) {
	var elems []element
	i := 0
	for i < len(script) {
		b := script[i]
		i++

		switch {
		case b >= 0x01 && b <= 0x4b:
			n := int(b)
			if i+n > len(script) {
				return nil, false
			}
			elems = append(elems, element{data: script[i : i+n], push: true})
			i += n

		case b == opPushData1:
			if i+1 > len(script) {
				return nil, false
			}
			n := int(script[i])
			i++
			if i+n > len(script) {
				return nil, false
			}
			elems = append(elems, element{data: script[i : i+n], push: true})
			i += n

		case b == opPushData2:
			if i+2 > len(script) {
				return nil, false
			}
			n := int(script[i]) | int(script[i+1])<<8
			i += 2
			if i+n > len(script) {
				return nil, false
			}
			elems = append(elems, element{data: script[i : i+n], push: true})
			i += n

		case b == opPushData4:
			if i+4 > len(script) {
				return nil, false
			}
			n := int(script[i]) | int(script[i+1])<<8 | int(script[i+2])<<16 | int(script[i+3])<<24
			i += 4
			if i+n > len(script) || n < 0 {
				return nil, false
			}
			elems = append(elems, element{data: script[i : i+n], push: true})
			i += n

		default:
			elems = append(elems, element{op: b})
		}
	}
	return elems, true
}

// hash160 is RIPEMD160(SHA256(data)), used to derive the address
// payload for a p2pk output from its raw public key.
func hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sha[:])
	return h.Sum(nil)
}
