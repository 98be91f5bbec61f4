package serial

import "errors"

type lineReader interface {
	ReadLine() ([]byte, error)
}

func readLinesLoop(r lineReader, onLine func(string), onError func(error)) {
	for {
		line, err := r.ReadLine()
		if err != nil {
			if !errors.Is(err, ErrClosed) {
				onError(err)
			}
			return
		}
		if line == nil {
			continue
		}
		onLine(string(line))
	}
}
