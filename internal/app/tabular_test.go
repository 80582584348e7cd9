package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestFilterTabular(t *testing.T) {
	tests := []struct {
		name      string
		file      IncomingFile
		kept      bool
		mediaType string
	}{
		{
			name:      "csv by extension",
			file:      IncomingFile{Name: "sales.csv", ContentType: "application/octet-stream", Data: []byte("a,b\n1,2\n")},
			kept:      true,
			mediaType: "text/csv",
		},
		{
			name:      "tsv by extension",
			file:      IncomingFile{Name: "sales.TSV", Data: []byte("a\tb\n1\t2\n")},
			kept:      true,
			mediaType: "text/tab-separated-values",
		},
		{
			name:      "declared csv without extension",
			file:      IncomingFile{Name: "export", ContentType: "text/csv; charset=utf-8", Data: []byte("a,b\n")},
			kept:      true,
			mediaType: "text/csv",
		},
		{
			name: "png image",
			file: IncomingFile{Name: "chart.png", ContentType: "image/png", Data: pngHeader},
			kept: false,
		},
		{
			name: "pdf renamed without extension",
			file: IncomingFile{Name: "report", ContentType: "application/pdf", Data: []byte("%PDF-1.7\n")},
			kept: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterTabular([]IncomingFile{tt.file})
			if !tt.kept {
				require.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			require.Equal(t, tt.file.Name, got[0].OriginalName)
			require.Equal(t, tt.mediaType, got[0].MediaType)
			require.Equal(t, tt.file.Data, got[0].RawContent)
		})
	}
}

func TestFilterTabularKeepsOrder(t *testing.T) {
	files := []IncomingFile{
		{Name: "first.csv", Data: []byte("a\n")},
		{Name: "skip.png", Data: pngHeader},
		{Name: "second.csv", Data: []byte("b\n")},
	}
	got := FilterTabular(files)
	require.Len(t, got, 2)
	require.Equal(t, "first.csv", got[0].OriginalName)
	require.Equal(t, "second.csv", got[1].OriginalName)
}
