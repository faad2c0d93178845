package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "empty", in: "", want: ""},
		{name: "single", in: "course_id=12", want: "course_id=12"},
		{name: "sorted and trimmed", in: " title = Go , course_id=3", want: "course_id=3,title=Go"},
		{name: "empty value allowed", in: "subject=", want: "subject="},
		{name: "missing equals", in: "course_id", wantErr: true},
		{name: "bad field", in: "data->>x=1", wantErr: true},
		{name: "empty field", in: "=1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFilter(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFilter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.String())
		})
	}
}

func TestFilter_Match(t *testing.T) {
	data := []byte(`{"id":7,"course_id":12,"title":"Go basics","published":true,"teacher":null}`)

	tests := []struct {
		filter string
		want   bool
	}{
		{filter: "", want: true},
		{filter: "course_id=12", want: true},
		{filter: "course_id=13", want: false},
		{filter: "course_id=12,title=Go basics", want: true},
		{filter: "published=true", want: true},
		{filter: "teacher=null", want: true},
		{filter: "missing=1", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			assert.Equal(t, tt.want, MustFilter(tt.filter).Match(data))
		})
	}

	assert.False(t, MustFilter("id=1").Match([]byte("not json")))
}

func TestFilter_MatchLargeIDs(t *testing.T) {
	data := []byte(`{"id":9007199254740993,"course_id":-4611686018427387903}`)

	assert.True(t, MustFilter("course_id=-4611686018427387903").Match(data))
	assert.False(t, MustFilter("course_id=-4611686018427387904").Match(data))
	assert.True(t, MustFilter("id=9007199254740993").Match(data))
	assert.False(t, MustFilter("id=9007199254740992").Match(data))
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)

		got, err = ParseKind(k.Singular())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseKind("lessons")
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.ErrorIs(t, Kind("lessons").Validate(), ErrUnknownKind)
}
