package vision

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"meterrelay/internal/logger"
	"meterrelay/internal/model"
)

// MarkerDetector finds fiducial markers in a frame. corners[i] holds the
// corner points of the marker whose id is ids[i].
type MarkerDetector interface {
	Detect(frame *MatFrame) (ids []int, corners [][]Point, err error)
	Close()
}

// ArucoDetector detects DICT_4X4_50 markers.
type ArucoDetector struct {
	detector gocv.ArucoDetector
}

func NewArucoDetector() *ArucoDetector {
	dict := gocv.GetPredefinedDictionary(gocv.ArucoDict4x4_50)
	params := gocv.NewArucoDetectorParameters()
	return &ArucoDetector{detector: gocv.NewArucoDetectorWithParams(dict, params)}
}

func (a *ArucoDetector) Detect(frame *MatFrame) ([]int, [][]Point, error) {
	gray := gocv.NewMat()
	defer gray.Close()

	if err := gocv.CvtColor(frame.Mat(), &gray, gocv.ColorBGRToGray); err != nil {
		return nil, nil, fmt.Errorf("grayscale conversion: %w", err)
	}

	markerCorners, ids, _ := a.detector.DetectMarkers(gray)

	corners := make([][]Point, len(markerCorners))
	for i, mc := range markerCorners {
		pts := make([]Point, len(mc))
		for j, p := range mc {
			pts[j] = Point{X: float64(p.X), Y: float64(p.Y)}
		}
		corners[i] = pts
	}
	return ids, corners, nil
}

func (a *ArucoDetector) Close() {
	a.detector.Close()
}

// Extractor locates the display region between four corner markers and
// rectifies it.
type Extractor struct {
	detector       MarkerDetector
	layout         Layout
	paddingPercent float64
	log            *logger.Logger
}

func NewExtractor(detector MarkerDetector, layout Layout, paddingPercent float64, log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Extractor{
		detector:       detector,
		layout:         layout,
		paddingPercent: paddingPercent,
		log:            log,
	}
}

// Extract never fails: any detection or warp problem yields a fallback
// outcome carrying the original frame. The input frame is not closed; an
// extracted image is a new frame owned by the caller.
func (e *Extractor) Extract(frame model.Frame) (out model.ExtractionOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Region extraction panicked: %v", r)
			out = model.Fallback(frame)
		}
	}()

	mf, ok := frame.(*MatFrame)
	if !ok || !model.ValidFrame(frame) {
		e.log.Warning("Region extraction skipped: invalid input frame")
		return model.Fallback(frame)
	}

	ids, corners, err := e.detector.Detect(mf)
	if err != nil {
		e.log.Warning("Marker detection failed: %v", err)
		return model.Fallback(frame)
	}

	src, missing := Locate(e.layout, ids, corners)
	if len(missing) > 0 {
		e.log.Warning("Marker detection: found %d/4 markers, missing %v", 4-len(missing), missing)
		return model.Fallback(frame)
	}

	plan, err := PlanCrop(src, e.paddingPercent)
	if err != nil {
		e.log.Warning("Region extraction: %v", err)
		return model.Fallback(frame)
	}

	warped, err := Warp(mf, plan)
	if err != nil {
		e.log.Warning("Perspective warp failed: %v", err)
		return model.Fallback(frame)
	}

	e.log.Debug("Region extracted: %dx%d px", plan.Width, plan.Height)
	return model.Extracted(warped)
}

// Warp applies the plan's perspective transform to src.
func Warp(src *MatFrame, plan CropPlan) (*MatFrame, error) {
	srcPts := gocv.NewPoint2fVectorFromPoints(toPoint2f(plan.Source))
	defer srcPts.Close()
	dstPts := gocv.NewPoint2fVectorFromPoints(toPoint2f(plan.Dest))
	defer dstPts.Close()

	m := gocv.GetPerspectiveTransform2f(srcPts, dstPts)
	defer m.Close()
	if m.Empty() {
		return nil, errors.New("perspective transform is singular")
	}

	dst := gocv.NewMat()
	if err := gocv.WarpPerspective(src.Mat(), &dst, m, image.Pt(plan.Width, plan.Height)); err != nil {
		dst.Close()
		return nil, err
	}
	if dst.Empty() {
		dst.Close()
		return nil, errors.New("warp produced an empty image")
	}
	return NewMatFrame(dst), nil
}

func toPoint2f(pts [4]Point) []gocv.Point2f {
	out := make([]gocv.Point2f, len(pts))
	for i, p := range pts {
		out[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return out
}
