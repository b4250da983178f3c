// Package slant classifies the political bias of news headlines with a
// fine-tuned BERT model served through ONNX Runtime.
//
// Quick start:
//
//	s, err := slant.New(slant.WithModelDir("models/bias-bert"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	label, _ := s.Classify("Senate passes bipartisan infrastructure bill")
//	fmt.Println(label) // CENTER
//
// Serve speaks the line-delimited JSON worker protocol over any reader and
// writer pair, which is how the slant binary drives it on stdin/stdout.
//
// The Slant instance is safe for concurrent use. Create once, reuse across
// requests.
package slant
