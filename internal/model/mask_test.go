package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskName(t *testing.T) {
	assert.Equal(t, "Acme R. L.", MaskName("Acme Reciclagem Ltda"))
	assert.Equal(t, "Solo", MaskName("Solo"))
	assert.Equal(t, "Maria É.", MaskName("Maria  élia"))
	assert.Equal(t, "", MaskName("   "))
}

func TestMaskTaxID(t *testing.T) {
	assert.Equal(t, "**.***.***/**01-90", MaskTaxID("12.345.678/0001-90"))
	assert.Equal(t, "1234", MaskTaxID("1234"))
	assert.Equal(t, "*2345", MaskTaxID("12345"))
}
