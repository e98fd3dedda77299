package session

// PendingMove is an optimistic local record of a move the viewer just made,
// held until an authoritative update reaches the ply it represents.
type PendingMove struct {
	Origin    string
	Dest      string
	Promotion string
	UCI       string
	// Notation is rendered locally so the history can show the move before
	// the backend confirms it.
	Notation string
	// Ply the move occupies once accepted: held ply + 1 at submission time.
	Ply int
}

// retirePending drops every pending move an authoritative update at plyNow
// has reached or passed.
func retirePending(pending []PendingMove, plyNow int) []PendingMove {
	kept := pending[:0]
	for _, pm := range pending {
		if pm.Ply > plyNow {
			kept = append(kept, pm)
		}
	}
	return kept
}
