// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keys

import "github.com/sirosfoundation/go-xmlsec/pkg/xmlsec"

// DataKind identifies a key or certificate storage kind.
type DataKind int

const (
	DataKindUnknown DataKind = iota
	DataKindName
	DataKindValue
	DataKindRetrievalMethod
	DataKindEncryptedKey
	DataKindAES
	DataKindDES
	DataKindDSA
	DataKindEC
	DataKindEd25519
	DataKindHMAC
	DataKindRSA
	DataKindX509
	DataKindRawX509Cert
)

// DataUsage describes where a key data kind may appear.
type DataUsage uint

const (
	DataUsageUnknown        DataUsage = 0
	DataUsageKeyInfoNode    DataUsage = 1 << 0
	DataUsageKeyValueNode   DataUsage = 1 << 1
	DataUsageRetrievalNode  DataUsage = 1 << 2
	DataUsageBinaryMaterial DataUsage = 1 << 3
	DataUsageAny            DataUsage = 0xFFFF
)

// DataKindInfo is a registry entry for a DataKind.
type DataKindInfo struct {
	Kind  DataKind
	Name  string
	Href  string
	Usage DataUsage
}

var dataKinds = map[DataKind]DataKindInfo{
	DataKindName:            {DataKindName, "key-name", "", DataUsageKeyInfoNode},
	DataKindValue:           {DataKindValue, "key-value", "", DataUsageKeyInfoNode},
	DataKindRetrievalMethod: {DataKindRetrievalMethod, "retrieval-method", "", DataUsageKeyInfoNode},
	DataKindEncryptedKey:    {DataKindEncryptedKey, "enc-key", xmlsec.NSXMLEnc + "EncryptedKey", DataUsageKeyInfoNode | DataUsageRetrievalNode},
	DataKindAES:             {DataKindAES, "aes", "http://www.aleksey.com/xmlsec/2002#AESKeyValue", DataUsageKeyValueNode | DataUsageBinaryMaterial},
	DataKindDES:             {DataKindDES, "des", "http://www.aleksey.com/xmlsec/2002#DESKeyValue", DataUsageKeyValueNode | DataUsageBinaryMaterial},
	DataKindDSA:             {DataKindDSA, "dsa", xmlsec.NSXMLDSig + "DSAKeyValue", DataUsageKeyValueNode | DataUsageRetrievalNode},
	DataKindEC:              {DataKindEC, "ec", xmlsec.NSXMLDSig11 + "ECKeyValue", DataUsageKeyValueNode | DataUsageRetrievalNode},
	DataKindEd25519:         {DataKindEd25519, "ed25519", "http://www.w3.org/2021/04/xmldsig-more#Ed25519KeyValue", DataUsageKeyValueNode},
	DataKindHMAC:            {DataKindHMAC, "hmac", "http://www.aleksey.com/xmlsec/2002#HMACKeyValue", DataUsageKeyValueNode | DataUsageBinaryMaterial},
	DataKindRSA:             {DataKindRSA, "rsa", xmlsec.NSXMLDSig + "RSAKeyValue", DataUsageKeyValueNode | DataUsageRetrievalNode},
	DataKindX509:            {DataKindX509, "x509", xmlsec.NSXMLDSig + "X509Data", DataUsageKeyInfoNode | DataUsageRetrievalNode},
	DataKindRawX509Cert:     {DataKindRawX509Cert, "raw-x509-cert", xmlsec.NSXMLDSig + "rawX509Certificate", DataUsageRetrievalNode},
}

// Info returns the registry entry of k.
func (k DataKind) Info() (DataKindInfo, bool) {
	info, ok := dataKinds[k]
	return info, ok
}

func (k DataKind) String() string {
	if info, ok := dataKinds[k]; ok {
		return info.Name
	}
	return "unknown"
}

// ParseDataKind returns the kind registered under name, e.g. "key-name".
func ParseDataKind(name string) (DataKind, bool) {
	for k, info := range dataKinds {
		if info.Name == name {
			return k, true
		}
	}
	return DataKindUnknown, false
}

// Symmetric reports whether keys of this kind are raw secret bytes.
func (k DataKind) Symmetric() bool {
	return k == DataKindAES || k == DataKindDES || k == DataKindHMAC
}

// DataKinds returns all registered kinds in declaration order.
func DataKinds() []DataKind {
	out := make([]DataKind, 0, len(dataKinds))
	for k := DataKindName; k <= DataKindRawX509Cert; k++ {
		out = append(out, k)
	}
	return out
}

// DataType is a bitmask of key material types.
type DataType uint

const (
	DataTypeUnknown   DataType = 0
	DataTypeNone      DataType = DataTypeUnknown
	DataTypePublic    DataType = 0x0001
	DataTypePrivate   DataType = 0x0002
	DataTypeSymmetric DataType = 0x0004
	DataTypeSession   DataType = 0x0008
	DataTypePermanent DataType = 0x0010
	DataTypeTrusted   DataType = 0x0100
	DataTypeAny       DataType = 0xFFFF
)

// Has reports whether any bit of o is set in t.
func (t DataType) Has(o DataType) bool {
	return t&o != 0
}

func (t DataType) String() string {
	switch t {
	case DataTypeUnknown:
		return "unknown"
	case DataTypeAny:
		return "any"
	}
	names := []struct {
		bit  DataType
		name string
	}{
		{DataTypePublic, "public"},
		{DataTypePrivate, "private"},
		{DataTypeSymmetric, "symmetric"},
		{DataTypeSession, "session"},
		{DataTypePermanent, "permanent"},
		{DataTypeTrusted, "trusted"},
	}
	s := ""
	for _, n := range names {
		if t&n.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	return s
}

// Usage is a bitmask of operations a key may be used for.
type Usage uint

const (
	UsageSign        Usage = 0x0001
	UsageVerify      Usage = 0x0002
	UsageEncrypt     Usage = 0x0004
	UsageDecrypt     Usage = 0x0008
	UsageKeyExchange Usage = 0x0010
	UsageAny         Usage = 0xFFFF
)

// Format identifies the encoding of key or certificate material.
type Format int

const (
	FormatUnknown Format = iota
	FormatBinary
	FormatPEM
	FormatDER
	FormatPKCS8PEM
	FormatPKCS8DER
	FormatPKCS12
	FormatCertPEM
	FormatCertDER
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatPEM:
		return "pem"
	case FormatDER:
		return "der"
	case FormatPKCS8PEM:
		return "pkcs8-pem"
	case FormatPKCS8DER:
		return "pkcs8-der"
	case FormatPKCS12:
		return "pkcs12"
	case FormatCertPEM:
		return "cert-pem"
	case FormatCertDER:
		return "cert-der"
	default:
		return "unknown"
	}
}

// Requirement is what an algorithm demands from a key.
type Requirement struct {
	Kind  DataKind
	Type  DataType
	Usage Usage
	// MinSize is the minimum key size in bits, 0 for none.
	MinSize int
}
