package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecordData(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
		want    RecordData
	}{
		{
			name: "valid",
			body: `{"username":"Roby","age":34,"hobbies":["skiing"]}`,
			want: RecordData{Username: "Roby", Age: 34, Hobbies: []string{"skiing"}},
		},
		{
			name: "zero age and empty hobbies",
			body: `{"username":"Baby","age":0,"hobbies":[]}`,
			want: RecordData{Username: "Baby", Age: 0, Hobbies: []string{}},
		},
		{name: "broken json", body: `{"username":`, wantErr: ErrInvalidJSON},
		{name: "empty body", body: ``, wantErr: ErrInvalidRecord},
		{name: "missing username", body: `{"age":1,"hobbies":[]}`, wantErr: ErrInvalidRecord},
		{name: "empty username", body: `{"username":"","age":1,"hobbies":[]}`, wantErr: ErrInvalidRecord},
		{name: "numeric username", body: `{"username":5,"age":1,"hobbies":[]}`, wantErr: ErrInvalidRecord},
		{name: "negative age", body: `{"username":"a","age":-1,"hobbies":[]}`, wantErr: ErrInvalidRecord},
		{name: "fractional age", body: `{"username":"a","age":1.5,"hobbies":[]}`, wantErr: ErrInvalidRecord},
		{name: "string age", body: `{"username":"a","age":"1","hobbies":[]}`, wantErr: ErrInvalidRecord},
		{name: "missing hobbies", body: `{"username":"a","age":1}`, wantErr: ErrInvalidRecord},
		{name: "null hobby", body: `{"username":"a","age":1,"hobbies":[null]}`, wantErr: ErrInvalidRecord},
		{name: "null among hobbies", body: `{"username":"a","age":1,"hobbies":["go",null]}`, wantErr: ErrInvalidRecord},
		{name: "null hobbies", body: `{"username":"a","age":1,"hobbies":null}`, wantErr: ErrInvalidRecord},
		{name: "non-string hobby", body: `{"username":"a","age":1,"hobbies":[1]}`, wantErr: ErrInvalidRecord},
		{name: "array body", body: `[]`, wantErr: ErrInvalidRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecordData([]byte(tt.body))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordClone(t *testing.T) {
	rec := Record{ID: "x", Username: "a", Hobbies: []string{"one"}}
	clone := rec.Clone()
	clone.Hobbies[0] = "two"

	assert.Equal(t, "one", rec.Hobbies[0])

	empty := Record{ID: "y"}.Clone()
	assert.NotNil(t, empty.Hobbies)
}
