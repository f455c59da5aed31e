package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePath(t *testing.T) {
	testCases := []struct {
		name         string
		raw          string
		wantLocation string
		wantID       string
		expectErr    bool
	}{
		{name: "Standard path", raw: "Canteen/Bin-1", wantLocation: "Canteen", wantID: "Bin-1"},
		{name: "Location with spaces", raw: "Main Gate/7", wantLocation: "Main Gate", wantID: "7"},
		{name: "Missing ID", raw: "Canteen/", expectErr: true},
		{name: "Missing location", raw: "/Bin-1", expectErr: true},
		{name: "No separator", raw: "Canteen", expectErr: true},
		{name: "Too many parts", raw: "Campus/Canteen/Bin-1", expectErr: true},
		{name: "Blank location", raw: "  /Bin-1", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			location, id, err := ParsePath(tc.raw)
			if tc.expectErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.wantLocation, location)
			assert.Equal(t, tc.wantID, id)
		})
	}
}

func TestJoinPath_RoundTrip(t *testing.T) {
	path := JoinPath("Canteen", "Bin-1")
	assert.Equal(t, "Canteen/Bin-1", path)

	location, id, err := ParsePath(path)
	assert.NoError(t, err)
	assert.Equal(t, "Canteen", location)
	assert.Equal(t, "Bin-1", id)
}

func TestValidatePart(t *testing.T) {
	assert.NoError(t, ValidatePart("Library"))
	assert.ErrorIs(t, ValidatePart(""), ErrInvalidPath)
	assert.ErrorIs(t, ValidatePart("a/b"), ErrInvalidPath)
}
