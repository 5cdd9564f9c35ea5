package tensor

import (
	"runtime"
	"sync"
)

// parallelRows is the row count below which MatVec stays on the calling
// goroutine.
const parallelRows = 4096

type matVecTask struct {
	dst    []float32
	w      *Mat
	x      []float32
	rs, re int
	wg     *sync.WaitGroup
}

type matVecPool struct {
	size  int
	tasks chan matVecTask
}

var (
	matVecWorkPool *matVecPool
	matVecPoolOnce sync.Once
)

func getMatVecPool() *matVecPool {
	matVecPoolOnce.Do(func() {
		size := max(runtime.GOMAXPROCS(0), 1)
		p := &matVecPool{size: size, tasks: make(chan matVecTask, size*2)}
		for range size {
			go func() {
				for task := range p.tasks {
					matVecRange(task.dst, task.w, task.x, task.rs, task.re)
					task.wg.Done()
				}
			}()
		}
		matVecWorkPool = p
	})
	return matVecWorkPool
}

// MatVec computes dst = w * x. Large matrices are split by rows across a
// shared worker pool.
func MatVec(dst []float32, w *Mat, x []float32) {
	if w.R == 0 || w.C == 0 {
		return
	}
	if len(dst) < w.R || len(x) < w.C {
		panic("matvec shape mismatch")
	}
	if w.R < parallelRows {
		matVecRange(dst, w, x, 0, w.R)
		return
	}

	pool := getMatVecPool()
	workers := min(pool.size, w.R)
	chunk := (w.R + workers - 1) / workers
	var wg sync.WaitGroup
	for rs := 0; rs < w.R; rs += chunk {
		wg.Add(1)
		pool.tasks <- matVecTask{dst: dst, w: w, x: x, rs: rs, re: min(rs+chunk, w.R), wg: &wg}
	}
	wg.Wait()
}

func matVecRange(dst []float32, w *Mat, x []float32, rs, re int) {
	for i := rs; i < re; i++ {
		row := w.Data[i*w.Stride : i*w.Stride+w.C]
		var sum float32
		j := 0
		for ; j+3 < w.C; j += 4 {
			sum += row[j]*x[j] + row[j+1]*x[j+1] + row[j+2]*x[j+2] + row[j+3]*x[j+3]
		}
		for ; j < w.C; j++ {
			sum += row[j] * x[j]
		}
		dst[i] = sum
	}
}
