package catalog

// NumClasses is the number of GTSRB sign classes the classifier predicts over.
const NumClasses = 43

// UnknownLabel is returned for class ids outside [0, NumClasses).
const UnknownLabel = "Unknown"

var labels = [NumClasses]string{
	"Speed limit (20km/h)",
	"Speed limit (30km/h)",
	"Speed limit (50km/h)",
	"Speed limit (60km/h)",
	"Speed limit (70km/h)",
	"Speed limit (80km/h)",
	"End of speed limit (80km/h)",
	"Speed limit (100km/h)",
	"Speed limit (120km/h)",
	"No passing",
	"No passing for vehicles over 3.5t",
	"Right-of-way at next intersection",
	"Priority road",
	"Yield",
	"Stop",
	"No vehicles",
	"Vehicles over 3.5t prohibited",
	"No entry",
	"General caution",
	"Dangerous curve to left",
	"Dangerous curve to right",
	"Double curve",
	"Bumpy road",
	"Slippery road",
	"Road narrows on right",
	"Road work",
	"Traffic signals",
	"Pedestrians",
	"Children crossing",
	"Bicycles crossing",
	"Beware of ice/snow",
	"Wild animals crossing",
	"End of all speed and passing limits",
	"Turn right ahead",
	"Turn left ahead",
	"Ahead only",
	"Go straight or right",
	"Go straight or left",
	"Keep right",
	"Keep left",
	"Roundabout mandatory",
	"End of no passing",
	"End of no passing for vehicles over 3.5t",
}

// Label returns the human-readable meaning of a class id.
func Label(classID int) string {
	if !Valid(classID) {
		return UnknownLabel
	}
	return labels[classID]
}

// Valid reports whether classID is a known sign class.
func Valid(classID int) bool {
	return classID >= 0 && classID < NumClasses
}
