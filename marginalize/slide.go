package marginalize

import "github.com/pkg/errors"

// MargOld runs spec.md §4.5's MARG_OLD path: drop window slot 0's pose and speed-bias blocks
// plus every feature anchored there, then shift every remaining pose/speed-bias block's slot
// index down by one so the returned prior addresses the post-slide window directly (slot i's
// blocks occupy where slot i-1's were, matching the feature manager's DecrementStartFrames).
// residuals must include the previous prior (via Prior.AsResidual) if one exists, the (0,1) IMU
// factor, and every reprojection residual anchored at slot 0.
func MargOld(residuals []Residual, featuresAnchoredAtZero []int, linPoints map[BlockID][]float64) (*Prior, error) {
	dropSet := map[BlockID]bool{
		PoseBlock(0):      true,
		SpeedBiasBlock(0): true,
	}
	for _, id := range featuresAnchoredAtZero {
		dropSet[FeatureBlock(id)] = true
	}

	prior, err := Marginalize(residuals, dropSet, linPoints)
	if err != nil {
		return nil, err
	}
	return shiftSlots(prior, -1), nil
}

// MargSecondNew runs spec.md §4.5's MARG_SECOND_NEW path: drop only window slot w-1's pose block
// from the previous prior (never its speed-bias, which must never appear in a MARG_SECOND_NEW
// drop set), then shift slot w's pose/speed-bias blocks down into w-1's slot. It is only run if
// the previous prior touches slot w-1's pose; callers should skip calling it otherwise and keep
// the existing prior unchanged.
func MargSecondNew(prior *Prior, w int) (*Prior, error) {
	if prior.Touches(SpeedBiasBlock(w - 1)) {
		panic("marginalize: MARG_SECOND_NEW drop set must never contain a speed-bias block, got slot " + SpeedBiasBlock(w - 1).String())
	}
	if !prior.Touches(PoseBlock(w - 1)) {
		return nil, errors.New("marginalize: prior does not touch the pose being dropped, nothing to do")
	}

	dropSet := map[BlockID]bool{PoseBlock(w - 1): true}
	next, err := Marginalize([]Residual{prior.AsResidual(nil)}, dropSet, prior.LinPoint)
	if err != nil {
		return nil, err
	}

	remapped := make([]BlockID, len(next.Blocks))
	remappedLin := make(map[BlockID][]float64, len(next.Blocks))
	for i, b := range next.Blocks {
		nb := b
		switch {
		case b == PoseBlock(w):
			nb = PoseBlock(w - 1)
		case b == SpeedBiasBlock(w):
			nb = SpeedBiasBlock(w - 1)
		}
		remapped[i] = nb
		remappedLin[nb] = next.LinPoint[b]
	}
	return &Prior{Blocks: remapped, J: next.J, B: next.B, LinPoint: remappedLin}, nil
}

// shiftSlots remaps every PoseBlockKind/SpeedBiasBlockKind block's slot index by delta, leaving
// extrinsic/td/feature blocks untouched.
func shiftSlots(p *Prior, delta int) *Prior {
	remapped := make([]BlockID, len(p.Blocks))
	remappedLin := make(map[BlockID][]float64, len(p.Blocks))
	for i, b := range p.Blocks {
		nb := b
		if b.Kind == PoseBlockKind || b.Kind == SpeedBiasBlockKind {
			nb = BlockID{Kind: b.Kind, Index: b.Index + delta}
		}
		remapped[i] = nb
		remappedLin[nb] = p.LinPoint[b]
	}
	return &Prior{Blocks: remapped, J: p.J, B: p.B, LinPoint: remappedLin}
}
