// FaceAttend - face liveness checking service
package main

import "github.com/faceattend/faceattend/internal/cli"

func main() {
	cli.Execute()
}
