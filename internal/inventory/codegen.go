package inventory

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/kkkkikiki/topup/internal/apperr"
	"github.com/kkkkikiki/topup/internal/model"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// maxGeneratedLength is the number of base-36 digits a 128-bit block can fill
const maxGeneratedLength = 24

// CodeGenerator derives gift codes from a batch label and a sequence number.
// The sequence is encrypted with an AES key taken from HMAC-SHA256(secret,
// batch), so codes within a batch are distinct. Only holders of the secret
// can derive a batch; with an empty secret the label alone is enough.
type CodeGenerator struct {
	prefix string
	length int
	block  cipher.Block
}

// NewCodeGenerator creates a generator for codes of the form prefix + length
// characters from [0-9A-Z]
func NewCodeGenerator(prefix string, length int, secret []byte, batch string) (*CodeGenerator, error) {
	if length <= 0 || length > maxGeneratedLength {
		return nil, fmt.Errorf("code length must be between 1 and %d, got %d", maxGeneratedLength, length)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(batch))
	key := mac.Sum(nil)
	block, err := aes.NewCipher(key[:16])
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return &CodeGenerator{prefix: prefix, length: length, block: block}, nil
}

// Generate returns the code for sequence number seq
func (g *CodeGenerator) Generate(seq uint64) string {
	// 128-bit plaintext: high 64 bits zero, low 64 bits = seq
	var plain [16]byte
	binary.BigEndian.PutUint64(plain[8:], seq)

	var out [16]byte
	g.block.Encrypt(out[:], plain[:])

	v := new(big.Int).SetBytes(out[:])
	base := big.NewInt(int64(len(codeAlphabet)))
	digit := new(big.Int)

	body := make([]byte, g.length)
	for i := g.length - 1; i >= 0; i-- {
		v.DivMod(v, base, digit)
		body[i] = codeAlphabet[digit.Int64()]
	}
	return g.prefix + string(body)
}

// MaxGenerateCount bounds a single GenerateBatch call
const MaxGenerateCount = 10000

// GenerateRequest describes a batch of codes to pre-generate
type GenerateRequest struct {
	Batch        string    `json:"batch"`
	StartSeq     uint64    `json:"start_seq"`
	Count        int       `json:"count"`
	Denomination int64     `json:"denomination"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// GenerateBatch derives Count codes from the batch label, starting at
// StartSeq, and imports them as AVAILABLE in one write
func (s *Service) GenerateBatch(ctx context.Context, req GenerateRequest) ([]model.GiftCode, error) {
	const op = "inventory.GenerateBatch"

	var fields apperr.FieldList
	if strings.TrimSpace(req.Batch) == "" {
		fields.Add("batch", "must not be empty")
	}
	if req.Count < 1 || req.Count > MaxGenerateCount {
		fields.Add("count", "must be between 1 and %d", MaxGenerateCount)
	}
	gen, err := NewCodeGenerator(s.rules.CodePrefix, s.rules.CodeLength, s.codeSecret, req.Batch)
	if err != nil {
		fields.Add("batch", "%v", err)
	}
	if err := fields.Err(op); err != nil {
		return nil, err
	}

	in := make([]model.NewCode, req.Count)
	for i := range in {
		in[i] = model.NewCode{
			Code:         gen.Generate(req.StartSeq + uint64(i)),
			Denomination: req.Denomination,
			ExpiresAt:    req.ExpiresAt,
			Metadata:     model.Metadata{"batch": req.Batch},
		}
	}

	codes, err := s.ImportCodes(ctx, in)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return codes, nil
}
