package model

import (
	"math"
	"strings"
)

// RopeScaling is the resolved rope_scaling block of a config.
type RopeScaling struct {
	Type       string
	Factor     float64
	OrigMaxCtx int
	LowFactor  float64
	HighFactor float64
}

func ropeScalingForConfig(cfg *hfConfig) *RopeScaling {
	if cfg == nil || cfg.RopeScaling == nil {
		return nil
	}
	rs := cfg.RopeScaling
	ropeType := strings.TrimSpace(rs.RopeType)
	if ropeType == "" {
		ropeType = strings.TrimSpace(rs.Type)
	}
	ropeType = strings.ToLower(ropeType)
	if ropeType == "" || ropeType == "default" {
		if rs.Factor <= 0 {
			return nil
		}
		ropeType = "linear"
	}
	if ropeType != "linear" && ropeType != "llama3" {
		return nil
	}

	out := &RopeScaling{
		Type:       ropeType,
		Factor:     rs.Factor,
		OrigMaxCtx: rs.OriginalMaxPositionEmbeddings,
		LowFactor:  rs.LowFreqFactor,
		HighFactor: rs.HighFreqFactor,
	}
	if out.OrigMaxCtx <= 0 {
		out.OrigMaxCtx = cfg.MaxPosition
	}
	if out.LowFactor <= 0 {
		out.LowFactor = 1
	}
	if out.HighFactor <= 0 {
		out.HighFactor = out.LowFactor
	}
	if out.Factor <= 0 {
		out.Factor = 1
	}
	return out
}

// ropeInvFreq returns the per-pair inverse frequencies for one head.
func ropeInvFreq(headDim int, base float64, rs *RopeScaling) []float64 {
	if base <= 0 {
		base = 10_000
	}
	inv := make([]float64, headDim/2)
	for i := range inv {
		power := float64(2*i) / float64(headDim)
		inv[i] = 1.0 / math.Pow(base, power)
	}
	if rs == nil || rs.Factor == 1 {
		return inv
	}
	switch rs.Type {
	case "llama3":
		applyLlama3Scaling(inv, rs.Factor, float64(rs.OrigMaxCtx), rs.LowFactor, rs.HighFactor)
	default:
		for i, f := range inv {
			inv[i] = f / rs.Factor
		}
	}
	return inv
}

func applyLlama3Scaling(invFreq []float64, factor float64, origCtx float64, lowFactor float64, highFactor float64) {
	if factor == 0 || factor == 1 || len(invFreq) == 0 || origCtx <= 0 {
		return
	}
	if highFactor <= lowFactor {
		for i, f := range invFreq {
			invFreq[i] = f / factor
		}
		return
	}

	lowFreqWavelen := origCtx / lowFactor
	highFreqWavelen := origCtx / highFactor

	for i, f := range invFreq {
		if f == 0 {
			continue
		}
		waveLen := (2 * math.Pi) / f
		switch {
		case waveLen > lowFreqWavelen:
			invFreq[i] = f / factor
		case waveLen < highFreqWavelen:
			invFreq[i] = f
		default:
			smooth := (origCtx/waveLen - lowFactor) / (highFactor - lowFactor)
			invFreq[i] = (1-smooth)*(f/factor) + smooth*f
		}
	}
}
