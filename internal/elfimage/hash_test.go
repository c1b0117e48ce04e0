package elfimage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashNames(t *testing.T) {
	tests := []struct {
		name string
		gnu  uint32
		sysv uint32
	}{
		{name: "", gnu: 0x1505, sysv: 0},
		{name: "printf", gnu: 0x156b2bb8, sysv: 0x77905a6},
		{name: "exit", gnu: 0x7c967e3f, sysv: 0x6cf04},
		{name: "syscall", gnu: 0xbac212a0, sysv: 0xb09985c},
		{name: "TEST_hello", gnu: 0xaf512bd8, sysv: 0xa5b49af},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.gnu, GNUHashName(tt.name))
			assert.Equal(t, tt.sysv, SysVHashName(tt.name))
		})
	}
}

func TestGNUHashCount(t *testing.T) {
	tests := []struct {
		name    string
		hash    GNUHash
		want    uint32
		wantErr bool
	}{
		{
			name: "no buckets",
			hash: GNUHash{NBucket: 0, SymOffset: 5},
			want: 0,
		},
		{
			name: "all buckets empty",
			hash: GNUHash{NBucket: 2, SymOffset: 3, Buckets: []uint32{0, 0}, Chain: ChainSlice{}},
			want: 3,
		},
		{
			name: "single chain",
			hash: GNUHash{NBucket: 1, SymOffset: 1, Buckets: []uint32{1}, Chain: ChainSlice{0x10, 0x21}},
			want: 3,
		},
		{
			name: "walks the highest bucket",
			hash: GNUHash{
				NBucket:   2,
				SymOffset: 1,
				Buckets:   []uint32{3, 1},
				Chain:     ChainSlice{0x10, 0x21, 0x30, 0x40, 0x51},
			},
			want: 6,
		},
		{
			name: "unhashed prefix",
			hash: GNUHash{NBucket: 2, SymOffset: 4, Buckets: []uint32{4, 0}, Chain: ChainSlice{0x11}},
			want: 5,
		},
		{
			name:    "unterminated chain",
			hash:    GNUHash{NBucket: 1, SymOffset: 1, Buckets: []uint32{1}, Chain: ChainSlice{0x10, 0x20}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.hash.Count()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrOutOfRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGNUHashMayContain(t *testing.T) {
	t.Run("no filter", func(t *testing.T) {
		h := GNUHash{}
		assert.True(t, h.MayContain(GNUHashName("anything")))
	})

	t.Run("64-bit filter", func(t *testing.T) {
		hash := GNUHashName("TEST_hello")
		h := GNUHash{BloomShift: 5, WordBits: 64, Bloom: []uint64{uint64(1)<<(hash%64) | uint64(1)<<((hash>>5)%64)}}
		assert.True(t, h.MayContain(hash))

		h.Bloom[0] = 0
		assert.False(t, h.MayContain(hash))
	})
}

func TestHashKindString(t *testing.T) {
	assert.Equal(t, "sysv", HashSysV.String())
	assert.Equal(t, "gnu", HashGNU.String())
	assert.Equal(t, "unknown", HashKind(0).String())
}
