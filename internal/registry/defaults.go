package registry

import "github.com/sells-group/vqa-filter/internal/model"

// defaultDefinitions is the built-in pipeline table. Criteria prefixed with
// "[optional] " are optional; everything else is a required gate.
func defaultDefinitions() []model.PipelineDefinition {
	return []model.PipelineDefinition{
		{
			ID:                "question",
			Name:              "Question Pipeline",
			Description:       "Object recognition + concept matching",
			CanonicalQuestion: "Which term matches the picture?",
			Criteria: ParseCriteria(
				"Exactly one primary object is present in the image",
				"Primary object exhibits visually identifiable features that correspond to the target concept",
				"Object boundaries are visually clear and separable from the background",
			),
			Keywords: []string{"term", "matches", "concept", "which term"},
			Patterns: []string{`which\s+term\s+matches`, `what\s+term\s+best\s+describes`},
		},
		{
			ID:                "caption",
			Name:              "Caption Pipeline",
			Description:       "Scene description/caption",
			CanonicalQuestion: "Which one is the correct caption of this image?",
			Criteria: ParseCriteria(
				"Image depicts a real-world photographic scene (not illustration, diagram, or synthetic image)",
				"Multiple objects of different semantic types are present",
				"Objects have clearly distinguishable spatial positions and relationships",
				"Objects are contextually consistent with the background environment",
				"Most objects are largely complete and not heavily occluded",
				"[optional] Empty or background-only regions do not exceed approximately one-third of the image",
			),
			Keywords: []string{"caption", "description", "describe", "correct caption"},
			Patterns: []string{`which.*correct\s+caption`, `best\s+caption`, `describe.*image`},
		},
		{
			ID:                "place_recognition",
			Name:              "Place Recognition Pipeline",
			Description:       "Geographic location identification",
			CanonicalQuestion: "What is the name of the place shown?",
			Criteria: ParseCriteria(
				"Image shows a real and non-fictional geographic location",
				"Map-style image includes a visually highlighted target region",
				"Highlighted region is positioned near the image center",
				"Highlighted region occupies at least half of the image area",
				"Location identity can be inferred from visual information alone without external text",
			),
			Keywords: []string{"place", "location", "name of the place"},
			Patterns: []string{`name\s+of.*place`, `what.*place.*shown`, `identify.*location`},
		},
		{
			ID:                "text_association",
			Name:              "Text Association Pipeline",
			Description:       "Image and text correlation",
			CanonicalQuestion: "Which can be the associated text with this image posted on twitter?",
			Criteria: ParseCriteria(
				"Exactly one primary object is present",
				"Primary object is positioned near the image center",
				"Primary object occupies the majority of the image area (approximately 70–80%)",
				"Primary object is visually salient and unambiguous",
			),
			Keywords: []string{"associated text", "twitter", "social media", "caption for"},
			Patterns: []string{`associated\s+text`, `text.*with.*image`, `posted\s+on`},
		},
		{
			ID:                "object_proportion",
			Name:              "Object Proportion Pipeline",
			Description:       "Object size proportion in image",
			CanonicalQuestion: "Approximately what proportion of the picture is occupied by [object]?",
			Criteria: ParseCriteria(
				"Image contains at least one visually salient object category that can serve as a potential target, even if not explicitly specified in the query",
				"Target object is complete or sufficiently recognizable for size estimation",
				"Image is not fully dominated by a single object covering nearly the entire frame",
				"Target object boundaries are visually discernible",
				"Target object category is clearly defined without conceptual ambiguity",
				"[optional] Target object may be absent from the image, requiring a zero-proportion judgment",
			),
			Keywords: []string{"proportion", "percentage", "how much", "occupied by"},
			Patterns: []string{`what\s+proportion`, `how\s+much.*occupied`, `percentage.*image`},
		},
		{
			ID:                "object_position",
			Name:              "Object Position Pipeline",
			Description:       "Object location in image",
			CanonicalQuestion: "Where is the [object] located in the picture?",
			Criteria: ParseCriteria(
				"Image contains at least one visually salient object that can serve as a potential target",
				"At least one such object has visually identifiable boundaries or distinguishable parts",
				"At least one such object can be treated as a single coherent entity for localization",
				"[optional] Image contains visually similar objects that may act as distractors",
				"[optional] Potential target object occupies a relatively small region of the image",
				"[optional] Potential target object is partially visible (e.g., body parts, silhouette, color patch)",
				"[optional] Potential target object appears in challenging regions (shadows, background, corners, or partial occlusion)",
			),
			Keywords: []string{"where", "located", "position", "location of"},
			Patterns: []string{`where\s+is.*located`, `position\s+of`, `location\s+in`},
		},
		{
			ID:                "object_absence",
			Name:              "Object Absence Pipeline",
			Description:       "Identifying areas without certain objects",
			CanonicalQuestion: "Which corner doesn't have any [objects]?",
			Criteria: ParseCriteria(
				"Image contains at least one visually salient object category that can serve as a potential target, even if not explicitly specified in the query",
				"Objects in the image have visually clear boundaries",
				"Objects occupy a substantial portion of the image area",
				"Target object category is clearly defined",
				"Image can be partitioned into distinct and identifiable spatial regions (e.g., four corners)",
			),
			Keywords: []string{"doesn't have", "without", "no", "absent", "which corner"},
			Patterns: []string{`doesn't\s+have`, `which.*no\s+`, `corner.*without`},
		},
		{
			ID:                "object_orientation",
			Name:              "Object Orientation Pipeline",
			Description:       "Object facing direction",
			CanonicalQuestion: "In the picture, which direction is this [object] facing?",
			Criteria: ParseCriteria(
				"Image contains at least one visually salient object that can serve as a target instance, even if the query does not explicitly specify the object",
				"Target object has an identifiable front, head, or directional indicator",
				"Question refers to a single target object instance",
				"[optional] Target object occupies a small portion of the image",
				"[optional] Target object is partially occluded or visually blurred",
				"[optional] Image contains interacting or overlapping objects requiring disambiguation",
				"[optional] Orientation judgment requires fine-grained directional discrimination",
			),
			Keywords: []string{"direction", "facing", "oriented", "which way"},
			Patterns: []string{`which\s+direction.*facing`, `facing\s+which`, `oriented\s+towards`},
		},
		{
			ID:                "object_counting",
			Name:              "Object Counting Pipeline",
			Description:       "Counting objects in image",
			CanonicalQuestion: "How many [objects] are in the picture?",
			Criteria: ParseCriteria(
				"Image contains at least one visually identifiable object category that can be counted, even if the target category is not explicitly specified in the query",
				"Target objects are countable as discrete instances",
				"[optional] Target objects are partially visible or truncated",
				"[optional] Image contains visually similar distractor objects",
				"[optional] Target objects overlap or occlude each other",
				"[optional] Target objects appear under unusual poses, rotations, or viewpoints",
				"[optional] Target objects visually blend with background colors or textures",
				"[optional] Image contains zero instances of the target object",
				"[optional] Multiple visually similar object subtypes may need to be jointly counted",
				"[optional] Object appearance varies due to packaging, surface decoration, or deformation",
				"[optional] Image exhibits challenging visual conditions (low light, blur, reflections)",
				"[optional] Mirrors or reflections introduce duplicated or misleading object appearances",
			),
			Keywords: []string{"how many", "count", "number of"},
			Patterns: []string{`how\s+many`, `count.*in`, `number\s+of`},
		},
	}
}
