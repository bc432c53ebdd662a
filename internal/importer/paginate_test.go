package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginate(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		page    int
		size    int
		want    Window
		wantErr bool
	}{
		{name: "first of two", total: 150, page: 0, size: 100, want: Window{Start: 0, End: 100, TotalPages: 2, HasNext: true}},
		{name: "last partial page", total: 150, page: 1, size: 100, want: Window{Start: 100, End: 150, TotalPages: 2}},
		{name: "exact fit", total: 200, page: 1, size: 100, want: Window{Start: 100, End: 200, TotalPages: 2}},
		{name: "empty list page zero", total: 0, page: 0, size: 100, want: Window{}},
		{name: "empty list page one", total: 0, page: 1, size: 100, wantErr: true},
		{name: "past the end", total: 150, page: 2, size: 100, wantErr: true},
		{name: "negative page", total: 150, page: -1, size: 100, wantErr: true},
		{name: "zero size", total: 150, page: 0, size: 0, wantErr: true},
		{name: "size over max", total: 150, page: 0, size: 501, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Paginate(tt.total, tt.page, tt.size, MaxChunkPageSize)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
