package harness

import (
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/roach88/votepool/internal/contract"
	"github.com/roach88/votepool/internal/ir"
)

// ContractName is how the deployed instance appears in traces and may be
// referenced in scenario fields that take an account name.
const ContractName = "contract"

// NamedAddress derives the address of a scenario account:
// the last 20 bytes of Keccak-256("votepool/account/" + name).
func NamedAddress(name string) contract.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("votepool/account/" + name))
	sum := h.Sum(nil)

	var addr contract.Address
	copy(addr[:], sum[len(sum)-len(addr):])
	return addr
}

// addressBook maps scenario names to addresses and back.
type addressBook struct {
	byName map[string]contract.Address
	byAddr map[contract.Address]string
}

func newAddressBook() *addressBook {
	return &addressBook{
		byName: make(map[string]contract.Address),
		byAddr: make(map[contract.Address]string),
	}
}

func (b *addressBook) add(name string, addr contract.Address) {
	b.byName[name] = addr
	b.byAddr[addr] = name
}

// resolve turns a name or a hex address into an address.
// Unknown names get their NamedAddress so that scenarios may refer to
// accounts that were never funded.
func (b *addressBook) resolve(ref string) contract.Address {
	if addr, ok := b.byName[ref]; ok {
		return addr
	}
	if addr, err := contract.ParseAddress(ref); err == nil {
		return addr
	}
	addr := NamedAddress(ref)
	b.add(ref, addr)
	return addr
}

// name shows addr as its scenario name, or as hex if it has none.
func (b *addressBook) name(addr contract.Address) string {
	if n, ok := b.byAddr[addr]; ok {
		return n
	}
	return addr.Hex()
}

// humanize rewrites every address-valued string in v to its scenario name.
func (b *addressBook) humanize(v ir.IRValue) ir.IRValue {
	switch val := v.(type) {
	case ir.IRString:
		s := string(val)
		if strings.HasPrefix(s, "0x") {
			if addr, err := contract.ParseAddress(s); err == nil {
				return ir.IRString(b.name(addr))
			}
		}
		return val
	case ir.IRArray:
		out := make(ir.IRArray, len(val))
		for i, elem := range val {
			out[i] = b.humanize(elem)
		}
		return out
	case ir.IRObject:
		out := make(ir.IRObject, len(val))
		for k, elem := range val {
			out[k] = b.humanize(elem)
		}
		return out
	default:
		return v
	}
}

// humanizeObject is humanize for objects.
func (b *addressBook) humanizeObject(obj ir.IRObject) ir.IRObject {
	if obj == nil {
		return nil
	}
	return b.humanize(obj).(ir.IRObject)
}
