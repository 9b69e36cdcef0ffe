package drill

import (
	"context"

	"github.com/pcbdrill/pcb-drill/internal/gcode"
)

//go:generate mockgen -destination=mocks/mock_vision.go -package=mocks github.com/pcbdrill/pcb-drill/internal/drill Vision

// Blob is a connected region found in a binarized image.
type Blob struct {
	X, Y float64 // centroid in pixels
	Area int
}

// Center returns the centroid as a drill coordinate.
func (b Blob) Center() gcode.Coordinate { return gcode.C(b.X, b.Y) }

// BoardRequest names the inputs and outputs of a board match.
type BoardRequest struct {
	PCB        string // photo of the board on the bed
	SolderMask string // solder mask previously processed for the session
	Cropped    string // output: board cropped out of the photo
	Annotated  string // output: photo with the match and holes drawn
	Keypoints  string // output: keypoint match visualization
}

// BoardMatch is the result of locating the board on the bed.
type BoardMatch struct {
	Count int     // holes found on the located board
	Angle float64 // board rotation in radians
}

// Vision is the image analysis backend.
type Vision interface {
	// SolderMask finds the solder pads in a mask image and writes an
	// annotated copy to annotatedPath.
	SolderMask(ctx context.Context, imagePath, annotatedPath string) ([]Blob, error)
	MatchBoard(ctx context.Context, req BoardRequest) (BoardMatch, error)
	// Difference finds what changed between two photos and writes the
	// binarized difference to diffPath.
	Difference(ctx context.Context, prePath, postPath, diffPath string) ([]Blob, error)
}
