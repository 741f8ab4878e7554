package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const keyVersion = "v1"

// CanonicalKey fingerprints every transformation parameter of r. Absent
// optional fields are encoded distinctly from any present value.
func (r TransformRequest) CanonicalKey() string {
	var b strings.Builder
	b.WriteString(keyVersion)
	writeKeyField(&b, r.Source, true)
	writeKeyInt(&b, r.Width)
	writeKeyInt(&b, r.Height)
	writeKeyField(&b, r.OutputFormat, r.OutputFormat != "")
	writeKeyInt(&b, r.Blur)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeKeyInt(b *strings.Builder, v *int) {
	if v == nil {
		writeKeyField(b, "", false)
		return
	}
	writeKeyField(b, strconv.Itoa(*v), true)
}

// Fields are length-prefixed so no two parameter sets share an encoding.
func writeKeyField(b *strings.Builder, v string, present bool) {
	b.WriteByte('|')
	if !present {
		b.WriteByte('-')
		return
	}
	b.WriteString(strconv.Itoa(len(v)))
	b.WriteByte(':')
	b.WriteString(v)
}
