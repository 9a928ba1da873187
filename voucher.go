package aax

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

const voucherVersion = 1

const (
	voucherFieldKey protowire.Number = 1
	voucherFieldIV  protowire.Number = 2
)

type voucherHeader struct {
	Signature [3]byte
	Version   uint8
	Flags     byte
}

var voucherSignature = [3]byte{'A', 'K', 'V'}

// MarshalBinary encodes k as a voucher: a 5-byte header followed by protobuf wire fields.
func (k *KeyMaterial) MarshalBinary() ([]byte, error) {
	buf := &bytes.Buffer{}
	header := voucherHeader{Signature: voucherSignature, Version: voucherVersion}
	if err := binary.Write(buf, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	var b []byte
	b = protowire.AppendTag(b, voucherFieldKey, protowire.BytesType)
	b = protowire.AppendBytes(b, k.Key[:])
	b = protowire.AppendTag(b, voucherFieldIV, protowire.BytesType)
	b = protowire.AppendBytes(b, k.IV[:])
	buf.Write(b)

	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a voucher written by MarshalBinary.
func (k *KeyMaterial) UnmarshalBinary(data []byte) error {
	km, err := readVoucher(bytes.NewReader(data))
	if err != nil {
		return err
	}
	*k = *km
	return nil
}

func readVoucher(r io.Reader) (*KeyMaterial, error) {
	header := &voucherHeader{}
	if err := binary.Read(r, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	if header.Signature != voucherSignature {
		return nil, fmt.Errorf("invalid signature: %v", header.Signature)
	}

	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rest bytes: %w", err)
	}

	switch header.Version {
	case 1:
		var key, iv []byte
		for len(rest) > 0 {
			num, typ, n := protowire.ConsumeTag(rest)
			if n < 0 {
				return nil, fmt.Errorf("consume tag: %w", protowire.ParseError(n))
			}
			rest = rest[n:]

			if typ != protowire.BytesType || (num != voucherFieldKey && num != voucherFieldIV) {
				n = protowire.ConsumeFieldValue(num, typ, rest)
				if n < 0 {
					return nil, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
				}
				rest = rest[n:]
				continue
			}

			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return nil, fmt.Errorf("consume field %d: %w", num, protowire.ParseError(n))
			}
			rest = rest[n:]

			if num == voucherFieldKey {
				key = v
			} else {
				iv = v
			}
		}

		km, err := NewKeyMaterial(key, iv)
		if err != nil {
			return nil, fmt.Errorf("voucher: %w", err)
		}
		return km, nil
	default:
		return nil, fmt.Errorf("unsupported version: %d", header.Version)
	}
}
