package simulate

import "math"

// emg evaluates an exponentially modified Gaussian at t. The parameterization
// preserves the Gaussian area h*sigma*sqrt(2*pi); with tau -> 0 it degenerates
// to the plain Gaussian. The split at z < 0 follows Kalambet et al. (2011) to
// stay finite for small tau / far tails.
func emg(t, h, mu, sigma, tau float64) float64 {
	if sigma <= 0 {
		return 0
	}
	u := (t - mu) / sigma
	if tau < 1e-6*sigma || tau <= 0 {
		if u < -30 || u > 30 {
			return 0
		}
		return h * math.Exp(-0.5*u*u)
	}
	r := sigma / tau
	z := (r - u) / math.Sqrt2
	if z < 0 {
		// Far tail: exponent is strictly negative here.
		exponent := 0.5*r*r - u*r
		if exponent < -700 {
			return 0
		}
		return h * r * math.Sqrt(math.Pi/2) * math.Exp(exponent) * math.Erfc(z)
	}
	if u < -30 {
		return 0
	}
	return h * r * math.Sqrt(math.Pi/2) * math.Exp(-0.5*u*u) * erfcx(z)
}

// erfcx is the scaled complementary error function exp(z^2)*erfc(z), z >= 0.
func erfcx(z float64) float64 {
	if z < 6 {
		return math.Exp(z*z) * math.Erfc(z)
	}
	// Asymptotic expansion; direct evaluation overflows past z ~ 26.
	inv2 := 1 / (2 * z * z)
	return (1 - inv2*(1-3*inv2)) / (z * math.SqrtPi)
}
