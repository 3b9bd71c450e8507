package pdf

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"fmt"
)

// EncryptionType represents the PDF encryption algorithm
type EncryptionType int

const (
	EncryptionNone EncryptionType = iota
	EncryptionRC4
	EncryptionAES128
)

// SecurityHandler implements the standard security handler, revisions 2
// to 4, opened with the empty user password (or an empty owner password).
type SecurityHandler struct {
	Type        EncryptionType
	Version     int
	Revision    int
	KeyLength   int // bytes
	Permissions int32
	OwnerKey    []byte
	UserKey     []byte
	EncryptMeta bool
	docID       []byte
	key         []byte
}

var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func newSecurityHandler(doc *Document, obj Object) (*SecurityHandler, error) {
	dict, ok := obj.(Dictionary)
	if !ok {
		return nil, fmt.Errorf("%w: invalid /Encrypt", ErrEncrypted)
	}
	if filter, _ := dict.GetName("Filter"); filter != "Standard" {
		return nil, fmt.Errorf("%w: filter %s", ErrEncrypted, filter)
	}
	sh := &SecurityHandler{Type: EncryptionRC4, KeyLength: 5, EncryptMeta: true}
	if v, ok := dict.GetInt("V"); ok {
		sh.Version = int(v)
	}
	if r, ok := dict.GetInt("R"); ok {
		sh.Revision = int(r)
	}
	if n, ok := dict.GetInt("Length"); ok && n >= 40 {
		sh.KeyLength = int(n / 8)
	}
	if p, ok := dict.GetInt("P"); ok {
		sh.Permissions = int32(p)
	}
	if o, ok := dict.GetString("O"); ok {
		sh.OwnerKey = o.Value
	}
	if u, ok := dict.GetString("U"); ok {
		sh.UserKey = u.Value
	}
	if em, ok := dict.GetBool("EncryptMetadata"); ok {
		sh.EncryptMeta = em
	}
	if ids, ok := doc.Resolve(doc.Trailer.Get("ID")).(Array); ok && len(ids) > 0 {
		if s, ok := doc.Resolve(ids[0]).(String); ok {
			sh.docID = s.Value
		}
	}

	switch {
	case sh.Version == 1 || sh.Revision == 2:
		sh.KeyLength = 5
	case sh.Version == 2 || sh.Version == 3:
	case sh.Version == 4:
		sh.KeyLength = 16
		cfm := Name("V2")
		if cf, ok := dict.GetDict("CF"); ok {
			stmf, _ := dict.GetName("StmF")
			if std, ok := cf.GetDict(string(stmf)); ok {
				if m, ok := std.GetName("CFM"); ok {
					cfm = m
				}
			}
		}
		switch cfm {
		case "AESV2":
			sh.Type = EncryptionAES128
		case "None":
			sh.Type = EncryptionNone
		}
	default:
		return nil, fmt.Errorf("%w: V%d R%d", ErrEncrypted, sh.Version, sh.Revision)
	}
	if sh.KeyLength > 16 {
		sh.KeyLength = 16
	}

	if !sh.authenticateUser("") && !sh.authenticateOwner("") {
		return nil, fmt.Errorf("%w: password required", ErrEncrypted)
	}
	return sh, nil
}

func padPassword(password string) []byte {
	pwd := []byte(password)
	if len(pwd) > 32 {
		pwd = pwd[:32]
	}
	out := make([]byte, 32)
	copy(out, pwd)
	copy(out[len(pwd):], passwordPadding)
	return out
}

// computeKey is algorithm 2 of the standard security handler.
func (sh *SecurityHandler) computeKey(password []byte) []byte {
	h := md5.New()
	h.Write(password)
	h.Write(sh.OwnerKey)
	p := uint32(sh.Permissions)
	h.Write([]byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)})
	h.Write(sh.docID)
	if sh.Revision >= 4 && !sh.EncryptMeta {
		h.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}
	sum := h.Sum(nil)
	if sh.Revision >= 3 {
		for i := 0; i < 50; i++ {
			s := md5.Sum(sum[:sh.KeyLength])
			sum = s[:]
		}
	}
	return sum[:sh.KeyLength]
}

func (sh *SecurityHandler) authenticateUser(password string) bool {
	return sh.tryKey(padPassword(password))
}

func (sh *SecurityHandler) tryKey(padded []byte) bool {
	key := sh.computeKey(padded)
	var expected []byte
	if sh.Revision >= 3 {
		h := md5.New()
		h.Write(passwordPadding)
		h.Write(sh.docID)
		expected = h.Sum(nil)
		rc4Rounds(key, expected, false)
		if len(sh.UserKey) < 16 || !bytes.Equal(expected[:16], sh.UserKey[:16]) {
			return false
		}
	} else {
		expected = make([]byte, 32)
		c, _ := rc4.NewCipher(key)
		c.XORKeyStream(expected, passwordPadding)
		if !bytes.Equal(expected, sh.UserKey) {
			return false
		}
	}
	sh.key = key
	return true
}

func (sh *SecurityHandler) authenticateOwner(password string) bool {
	sum := md5.Sum(padPassword(password))
	hash := sum[:]
	if sh.Revision >= 3 {
		for i := 0; i < 50; i++ {
			s := md5.Sum(hash)
			hash = s[:]
		}
	}
	key := hash[:sh.KeyLength]
	user := append([]byte(nil), sh.OwnerKey...)
	if sh.Revision >= 3 {
		rc4Rounds(key, user, true)
	} else {
		c, _ := rc4.NewCipher(key)
		c.XORKeyStream(user, user)
	}
	return sh.tryKey(user)
}

// rc4Rounds applies the 20 XOR-keyed RC4 passes of revision 3+, in
// ascending order or, for decryption, descending.
func rc4Rounds(key, data []byte, reverse bool) {
	tmp := make([]byte, len(key))
	for n := 0; n < 20; n++ {
		i := n
		if reverse {
			i = 19 - n
		}
		for j := range key {
			tmp[j] = key[j] ^ byte(i)
		}
		c, _ := rc4.NewCipher(tmp)
		c.XORKeyStream(data, data)
	}
}

func (sh *SecurityHandler) objectKey(num, gen int) []byte {
	h := md5.New()
	h.Write(sh.key)
	h.Write([]byte{byte(num), byte(num >> 8), byte(num >> 16), byte(gen), byte(gen >> 8)})
	if sh.Type == EncryptionAES128 {
		h.Write([]byte("sAlT"))
	}
	n := len(sh.key) + 5
	if n > 16 {
		n = 16
	}
	return h.Sum(nil)[:n]
}

func (sh *SecurityHandler) decrypt(data []byte, num, gen int) []byte {
	if sh.Type == EncryptionNone {
		return data
	}
	key := sh.objectKey(num, gen)
	if sh.Type == EncryptionAES128 {
		out, err := decryptAES(data, key)
		if err != nil {
			return data
		}
		return out
	}
	out := make([]byte, len(data))
	c, _ := rc4.NewCipher(key)
	c.XORKeyStream(out, data)
	return out
}

func decryptAES(data, key []byte) ([]byte, error) {
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("AES payload of %d bytes", len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, data[:aes.BlockSize]).CryptBlocks(out, data[aes.BlockSize:])
	if pad := int(out[len(out)-1]); pad > 0 && pad <= aes.BlockSize {
		out = out[:len(out)-pad]
	}
	return out, nil
}

func (sh *SecurityHandler) decryptObject(obj Object, num, gen int) Object {
	switch v := obj.(type) {
	case String:
		return String{Value: sh.decrypt(v.Value, num, gen), IsHex: v.IsHex}
	case Array:
		out := make(Array, len(v))
		for i, item := range v {
			out[i] = sh.decryptObject(item, num, gen)
		}
		return out
	case Dictionary:
		out := make(Dictionary, len(v))
		for k, item := range v {
			out[k] = sh.decryptObject(item, num, gen)
		}
		return out
	case Stream:
		if t, _ := v.Dictionary.GetName("Type"); t == "XRef" {
			return v
		}
		dict := sh.decryptObject(v.Dictionary, num, gen).(Dictionary)
		return Stream{Dictionary: dict, Data: sh.decrypt(v.Data, num, gen)}
	}
	return obj
}
