// Package report writes and reads the evaluation log files of a run.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/golang/geo/r3"

	"github.com/san-kum/stackeval/internal/geom"
)

const (
	SuccessLog         = "success_log"
	ErrorLog           = "error_log"
	InestimableLog     = "inestimable_log"
	TimeToSteadyLog    = "time_to_steady"
	SuccessBetweenFail = "success_between_fail_count"
)

type ModelPose struct {
	Name string
	Pose geom.Pose
}

// Record is one scored estimate, or the placeholder written for a pile that
// could not be estimated.
type Record struct {
	Recognized       string
	Closest          string
	ErrorEulerDeg    r3.Vector
	ErrorAxis        r3.Vector
	ErrorAngleDeg    float64
	ErrorTranslation r3.Vector
	Estimate         geom.Pose
	SensorPose       geom.Pose
	// Objects are the unestimated targets at the time of the record.
	Objects []ModelPose
	// Others are every remaining model of the world.
	Others []ModelPose
	Reason string
}

// WriteTo renders r with index n in the log file layout.
func (r Record) WriteTo(w io.Writer, n int) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d]\n", n)
	fmt.Fprintf(&b, "@Object_Recognized:%s\n", r.Recognized)
	fmt.Fprintf(&b, "@Closest_Object:%s\n", r.Closest)
	fmt.Fprintf(&b, "@Error Euler (degree):%s\n", geom.FormatVector(r.ErrorEulerDeg))
	fmt.Fprintf(&b, "@Error Quaternion Axis:%s\n", geom.FormatVector(r.ErrorAxis))
	fmt.Fprintf(&b, "@Error Quaternion Angle (degree):%g\n", r.ErrorAngleDeg)
	fmt.Fprintf(&b, "@Error Translation:%s\n", geom.FormatVector(r.ErrorTranslation))
	fmt.Fprintf(&b, "@Error Translation Length:%g\n", r.ErrorTranslation.Norm())
	if r.Reason != "" {
		fmt.Fprintf(&b, "@Reason:%s\n", r.Reason)
	}
	b.WriteString("@Estimate_result:\n")
	b.WriteString(geom.FormatMatrix(r.Estimate.Matrix()))
	b.WriteString("@Sensor_Pose(not sensor model):\n")
	b.WriteString(r.SensorPose.String() + "\n")
	b.WriteString("@Object_Pose:\n")
	for _, mp := range r.Objects {
		fmt.Fprintf(&b, "%s:%s\n", mp.Name, mp.Pose.String())
	}
	for _, mp := range r.Others {
		fmt.Fprintf(&b, "%s:%s\n", mp.Name, mp.Pose.String())
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}
