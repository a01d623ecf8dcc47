package estimator

// Vec3 — вектор состояния [фаза, смещение частоты, дрейф].
type Vec3 [3]float32

// Mat3 — матрица 3×3 (строки, затем столбцы).
type Mat3 [3][3]float32

func identity() Mat3 {
	return Mat3{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
}

func diag(v Vec3) Mat3 {
	return Mat3{
		{v[0], 0, 0},
		{0, v[1], 0},
		{0, 0, v[2]},
	}
}

func matMul(a, b Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float32
			for k := 0; k < 3; k++ {
				s += a[i][k] * b[k][j]
			}
			out[i][j] = s
		}
	}
	return out
}

func transpose(a Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[j][i]
		}
	}
	return out
}

func matAdd(a, b Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[i][j] + b[i][j]
		}
	}
	return out
}

func matSub(a, b Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[i][j] - b[i][j]
		}
	}
	return out
}

func matScale(a Mat3, s float32) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[i][j] * s
		}
	}
	return out
}

func mulVec(a Mat3, v Vec3) Vec3 {
	var out Vec3
	for i := 0; i < 3; i++ {
		out[i] = a[i][0]*v[0] + a[i][1]*v[1] + a[i][2]*v[2]
	}
	return out
}

func dot(a, b Vec3) float32 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// outer возвращает a·bᵀ.
func outer(a, b Vec3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[i] * b[j]
		}
	}
	return out
}

func symmetrize(m Mat3) Mat3 {
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			avg := 0.5 * (m[i][j] + m[j][i])
			m[i][j], m[j][i] = avg, avg
		}
	}
	return m
}
