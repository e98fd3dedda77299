package game

import "testing"

func TestEncodeMove(t *testing.T) {
	tests := []struct {
		name      string
		origin    string
		destRow   int
		destCol   int
		promotion string
		want      string
	}{
		{"pawn push", "e2", 4, 4, "", "e2e4"},
		{"promotion lowercased", "e2", 4, 4, "Q", "e2e4q"},
		{"top left corner", "a2", 0, 0, "", "a2a8"},
		{"bottom right corner", "h7", 7, 7, "", "h7h1"},
		{"knight hop", "g1", 5, 5, "", "g1f3"},
		{"underpromotion", "b7", 0, 1, "n", "b7b8n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeMove(tt.origin, tt.destRow, tt.destCol, tt.promotion)
			if got != tt.want {
				t.Errorf("EncodeMove(%q, %d, %d, %q) = %q, want %q",
					tt.origin, tt.destRow, tt.destCol, tt.promotion, got, tt.want)
			}
		})
	}
}
