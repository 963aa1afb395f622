package pipeline_test

import (
	"context"
	"fmt"
	"time"

	"github.com/vnykmshr/goboot/pkg/runtime/loop"
	"github.com/vnykmshr/goboot/pkg/runtime/pipeline"
)

type server struct {
	port int
}

func Example() {
	l := loop.New()
	defer func() { <-l.Shutdown() }()

	srv := &server{}
	p := pipeline.New(srv, l)

	_ = p.Push(pipeline.Sync[*server]("set port", func() error {
		srv.port = 8080
		fmt.Println("port set")
		return nil
	}))
	_ = p.Push(pipeline.Async[*server]("scan", func(done pipeline.Done) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			fmt.Println("scan finished")
			done(nil)
		}()
	}))
	_ = p.Push(pipeline.WithOwner("run", func(s *server, done pipeline.Done) {
		fmt.Println("running on", s.port)
		done(nil)
	}))

	_ = p.Wait(context.Background())
	// Output:
	// port set
	// scan finished
	// running on 8080
}

func ExamplePipeline_Err() {
	l := loop.New()
	defer func() { <-l.Shutdown() }()

	p := pipeline.New(0, l)
	err := p.Push(pipeline.Sync[int]("mount", func() error {
		return fmt.Errorf("mount point taken")
	}))
	fmt.Println(err)
	fmt.Println(p.Halted(), p.Err())
	// Output:
	// mount point taken
	// true mount point taken
}
