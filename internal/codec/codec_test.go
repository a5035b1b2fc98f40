package codec

import (
	"math"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type person struct {
	Name  string            `json:"name" msgpack:"name"`
	Age   int               `json:"age" msgpack:"age"`
	Tags  map[string]string `json:"tags,omitempty" msgpack:"tags,omitempty"`
	Notes []string          `json:"notes,omitempty" msgpack:"notes,omitempty"`
}

func TestStringKeys_NFC(t *testing.T) {
	var c StringKeys

	// "é" precomposed vs "e" + combining acute accent
	composed, err := c.EncodeKey("caf\u00e9")
	require.NoError(t, err)
	decomposed, err := c.EncodeKey("cafe\u0301")
	require.NoError(t, err)

	assert.Equal(t, composed, decomposed)
}

func TestStringKeys_Empty(t *testing.T) {
	_, err := StringKeys{}.EncodeKey("")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestUUIDKeys(t *testing.T) {
	var c UUIDKeys
	id := uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057")

	s, err := c.EncodeKey(id)
	require.NoError(t, err)
	assert.Equal(t, "01890a5d-ac96-774b-bcce-b302099a8057", s)

	back, err := c.DecodeKey(s)
	require.NoError(t, err)
	assert.Equal(t, id, back)

	_, err = c.DecodeKey("not-a-uuid")
	assert.Error(t, err)
}

func TestInt64Keys_OrderMatchesNumericOrder(t *testing.T) {
	var c Int64Keys
	values := []int64{math.MinInt64, -100, -1, 0, 1, 9, 10, 100, math.MaxInt64}

	encoded := make([]string, len(values))
	for i, v := range values {
		s, err := c.EncodeKey(v)
		require.NoError(t, err)
		assert.Len(t, s, 20)
		encoded[i] = s

		back, err := c.DecodeKey(s)
		require.NoError(t, err)
		assert.Equal(t, v, back)
	}

	assert.True(t, sort.StringsAreSorted(encoded), "encoded keys out of order: %v", encoded)
}

func TestInt64Keys_DecodeRejectsMalformed(t *testing.T) {
	var c Int64Keys
	_, err := c.DecodeKey("12")
	assert.Error(t, err)
	_, err = c.DecodeKey("abcdefghijklmnopqrst")
	assert.Error(t, err)
}

func TestJSON_NoHTMLEscapeNoNewline(t *testing.T) {
	data, err := JSON[person]{}.Marshal(&person{Name: "<Ada & Bob>", Age: 36})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"<Ada & Bob>","age":36}`, string(data))
}

func TestCodecs_DeterministicMaps(t *testing.T) {
	for _, c := range []Codec[person]{JSON[person]{}, MsgPack[person]{}} {
		t.Run(c.Name(), func(t *testing.T) {
			p := &person{Name: "Ada", Tags: map[string]string{"z": "1", "a": "2", "m": "3"}}

			first, err := c.Marshal(p)
			require.NoError(t, err)
			for i := 0; i < 20; i++ {
				again, err := c.Marshal(p)
				require.NoError(t, err)
				require.Equal(t, first, again)
			}

			var out person
			require.NoError(t, c.Unmarshal(first, &out))
			assert.Equal(t, *p, out)
		})
	}
}

func TestCodecs_UnmarshalError(t *testing.T) {
	var p person
	assert.Error(t, JSON[person]{}.Unmarshal([]byte("{"), &p))
	assert.Error(t, MsgPack[person]{}.Unmarshal([]byte{0xc1}, &p))
}

func TestByName(t *testing.T) {
	c, err := ByName[person]("msgpack")
	require.NoError(t, err)
	assert.Equal(t, NameMsgPack, c.Name())

	c, err = ByName[person]("")
	require.NoError(t, err)
	assert.Equal(t, NameJSON, c.Name())

	_, err = ByName[person]("xml")
	assert.Error(t, err)
}

func TestClone_IsDeep(t *testing.T) {
	orig := &person{Name: "Ada", Notes: []string{"a"}}
	cp, err := Clone[person](JSON[person]{}, orig)
	require.NoError(t, err)

	cp.Notes[0] = "changed"
	cp.Name = "Bob"
	assert.Equal(t, "a", orig.Notes[0])
	assert.Equal(t, "Ada", orig.Name)
}
